// Package logging is a thin, tag-prefixed wrapper over the standard
// library logger, matching the bracketed-tag style the tool itself used
// throughout its monitor and migration code (`log.Printf("[Tag] ...")`).
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger writes bracketed, tagged lines to an underlying *log.Logger.
type Logger struct {
	tag   string
	inner *log.Logger
}

// New constructs a Logger that writes to os.Stderr with the given tag.
func New(tag string) *Logger {
	return NewWithOutput(tag, os.Stderr)
}

// NewWithOutput constructs a Logger writing to an arbitrary writer, mainly
// for tests that want to capture output.
func NewWithOutput(tag string, w io.Writer) *Logger {
	return &Logger{tag: tag, inner: log.New(w, "", log.LstdFlags)}
}

// With returns a Logger scoped under a nested tag, e.g. "Backup" under
// "zfsbackup" becomes "[zfsbackup][Backup] ...".
func (l *Logger) With(tag string) *Logger {
	return &Logger{tag: l.tag + "][" + tag, inner: l.inner}
}

func (l *Logger) Infof(format string, args ...any) {
	l.inner.Printf("[%s] %s", l.tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.inner.Printf("[%s] Warning: %s", l.tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.inner.Printf("[%s] Error: %s", l.tag, fmt.Sprintf(format, args...))
}
