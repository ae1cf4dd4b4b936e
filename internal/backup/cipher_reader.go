package backup

import (
	"bytes"
	"fmt"
	"io"

	"github.com/saworbit/zfsbackup/internal/backuperr"
	"github.com/saworbit/zfsbackup/internal/streamcipher"
)

// sealingReader wraps a plaintext io.Reader and presents the ciphertext
// stream produced by sealing it one streamcipher.ChunkSize chunk at a time.
// remainingPlaintext is the exact number of plaintext bytes left to draw
// from src, known up front from the diff's size accounting; it is what lets
// this reader call Seal exactly as many times as w expects (including the
// single empty-chunk call a zero-length remainder still requires) without
// needing src to report its own length.
type sealingReader struct {
	src                io.Reader
	w                  *streamcipher.Writer
	remainingPlaintext int64

	buf      bytes.Buffer
	finished bool
}

func newSealingReader(src io.Reader, w *streamcipher.Writer, remainingPlaintext int64) *sealingReader {
	return &sealingReader{src: src, w: w, remainingPlaintext: remainingPlaintext}
}

func (s *sealingReader) Read(p []byte) (int, error) {
	for s.buf.Len() == 0 {
		if s.finished {
			return 0, io.EOF
		}

		chunkLen := int64(streamcipher.ChunkSize)
		if s.remainingPlaintext < chunkLen {
			chunkLen = s.remainingPlaintext
		}

		plain := make([]byte, chunkLen)
		if chunkLen > 0 {
			if _, err := io.ReadFull(s.src, plain); err != nil {
				return 0, fmt.Errorf("%w: reading plaintext to encrypt: %v", backuperr.ErrStreamIO, err)
			}
		}

		ciphertext, err := s.w.Seal(plain)
		if err != nil {
			return 0, err
		}
		s.buf.Write(ciphertext)

		s.remainingPlaintext -= chunkLen
		if s.remainingPlaintext <= 0 {
			s.finished = true
		}
	}
	return s.buf.Read(p)
}
