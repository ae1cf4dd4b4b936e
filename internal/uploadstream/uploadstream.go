// Package uploadstream builds the lazy, single-pass byte stream that the
// backup pipeline's Upload step draws object bodies from: for each diff
// entry, a varint-prefixed record followed by the file's content when the
// entry is a created or modified regular file. The stream supports resuming
// from an exact byte offset so the Upload step can rebuild it identically
// after a crash.
package uploadstream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/multiformats/go-varint"
	"github.com/saworbit/zfsbackup/internal/backuperr"
	"github.com/saworbit/zfsbackup/internal/diffentry"
)

type plan struct {
	header   []byte // varint(len(record)) ‖ record
	bodyPath string // empty when this entry carries no file content
	bodyLen  int64
}

// Stream is a single-pass, pull-based io.Reader equal to the concatenation
// of (varint size, record, optional body) over its diff entries, starting
// at an arbitrary byte offset. It opens at most one file handle at a time
// and closes each as soon as its last byte is emitted.
type Stream struct {
	mountPoint string
	plans      []plan

	idx          int
	entryOffset  int64 // bytes of the current entry already emitted (across header+body)
	file         *os.File
	fileOffset   int64
	totalLen     int64
}

// New builds a Stream over entries (already sorted, stat-resolved, and
// optimized), rooted at mountPoint, starting at skipBytes into the full
// concatenation. skipBytes must equal a valid region boundary sum per the
// upload step's accounting; New does not itself validate that — it simply
// walks forward.
func New(mountPoint string, entries []diffentry.Resolved, skipBytes int64) (*Stream, error) {
	plans := make([]plan, 0, len(entries))
	var total int64
	for _, e := range entries {
		record, err := diffentry.EncodeRecord(e)
		if err != nil {
			return nil, err
		}
		header := append(varint.ToUvarint(uint64(len(record))), record...)

		var bodyPath string
		var bodyLen int64
		hasBody := (e.Change.Kind == diffentry.Created || e.Change.Kind == diffentry.Modified) &&
			e.Kind == diffentry.RegularFile
		if hasBody {
			if e.Change.Content == nil {
				return nil, fmt.Errorf("uploadstream: entry %q has no resolved metadata", e.Path)
			}
			bodyPath = filepath.Join(mountPoint, filepath.FromSlash(e.Path))
			bodyLen = int64(e.Change.Content.Len)
		}

		plans = append(plans, plan{header: header, bodyPath: bodyPath, bodyLen: bodyLen})
		total += int64(len(header)) + bodyLen
	}

	s := &Stream{mountPoint: mountPoint, plans: plans, totalLen: total}

	remaining := skipBytes
	for remaining > 0 && s.idx < len(plans) {
		size := int64(len(plans[s.idx].header)) + plans[s.idx].bodyLen
		if remaining < size {
			s.entryOffset = remaining
			remaining = 0
			break
		}
		remaining -= size
		s.idx++
	}
	if remaining > 0 {
		return nil, fmt.Errorf("uploadstream: skipBytes %d exceeds total stream length %d", skipBytes, total)
	}

	return s, nil
}

// Len returns the total length of the full (unskipped) stream.
func (s *Stream) Len() int64 { return s.totalLen }

// Read implements io.Reader. It is single-pass: once exhausted, subsequent
// calls return (0, io.EOF).
func (s *Stream) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if s.idx >= len(s.plans) {
			if s.file != nil {
				s.file.Close()
				s.file = nil
			}
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		}

		cur := s.plans[s.idx]
		headerLen := int64(len(cur.header))

		if s.entryOffset < headerLen {
			n := copy(p[total:], cur.header[s.entryOffset:])
			s.entryOffset += int64(n)
			total += n
			continue
		}

		bodyOffset := s.entryOffset - headerLen
		if bodyOffset < cur.bodyLen {
			if s.file == nil {
				f, err := os.Open(cur.bodyPath)
				if err != nil {
					return total, fmt.Errorf("%w: opening %s: %v", backuperr.ErrStreamIO, cur.bodyPath, err)
				}
				s.file = f
				s.fileOffset = 0
				if bodyOffset > 0 {
					if _, err := s.file.Seek(bodyOffset, io.SeekStart); err != nil {
						return total, fmt.Errorf("%w: seeking %s: %v", backuperr.ErrStreamIO, cur.bodyPath, err)
					}
					s.fileOffset = bodyOffset
				}
			}

			maxRead := cur.bodyLen - bodyOffset
			want := int64(len(p) - total)
			if want > maxRead {
				want = maxRead
			}
			n, err := s.file.Read(p[total : int64(total)+want])
			if n > 0 {
				s.entryOffset += int64(n)
				s.fileOffset += int64(n)
				total += n
			}
			if err != nil && err != io.EOF {
				return total, fmt.Errorf("%w: reading %s: %v", backuperr.ErrStreamIO, cur.bodyPath, err)
			}
			if s.entryOffset-headerLen >= cur.bodyLen {
				s.file.Close()
				s.file = nil
			}
			continue
		}

		// Entry fully emitted; advance.
		if s.file != nil {
			s.file.Close()
			s.file = nil
		}
		s.idx++
		s.entryOffset = 0
	}
	return total, nil
}

// Close releases any open file handle without fully draining the stream.
func (s *Stream) Close() error {
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
