package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfofIncludesTagAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("Backup", &buf)
	l.Infof("snapshot %s committed", "snap0")

	out := buf.String()
	if !strings.Contains(out, "[Backup]") {
		t.Errorf("output missing tag: %q", out)
	}
	if !strings.Contains(out, "snapshot snap0 committed") {
		t.Errorf("output missing message: %q", out)
	}
}

func TestWarnfPrefixesWarning(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("Upload", &buf)
	l.Warnf("retrying part %d", 3)

	out := buf.String()
	if !strings.Contains(out, "Warning:") {
		t.Errorf("output missing Warning prefix: %q", out)
	}
	if !strings.Contains(out, "retrying part 3") {
		t.Errorf("output missing message: %q", out)
	}
}

func TestWithNestsTag(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("zfsbackup", &buf)
	nested := l.With("Backup")
	nested.Infof("starting")

	out := buf.String()
	if !strings.Contains(out, "[zfsbackup][Backup]") {
		t.Errorf("output missing nested tag: %q", out)
	}
}
