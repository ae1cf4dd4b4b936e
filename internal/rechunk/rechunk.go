// Package rechunk exposes take(n) over an arbitrary upstream byte stream so
// the upload step can slice a logically continuous plaintext or ciphertext
// stream into fixed-size object bodies without caring about the chunk
// boundaries the stream happens to produce internally.
package rechunk

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// readBufSize bounds how much is pulled from upstream per underlying Read
// call; it does not bound what TakeBytes can return, only the granularity
// of upstream reads while filling a request.
const readBufSize = 64 * 1024

// Rechunker wraps upstream and serves TakeBytes(n) calls, buffering at most
// one partial read from upstream between calls. A single Rechunker may be
// shared by callers that serialize their TakeBytes calls via the mutex —
// matching the pipeline's "single active reader, defensive lock" shape.
type Rechunker struct {
	mu       sync.Mutex
	upstream io.Reader
	buffer   []byte // leftover bytes read from upstream but not yet handed out
	eof      bool
}

// New wraps upstream in a Rechunker.
func New(upstream io.Reader) *Rechunker {
	return &Rechunker{upstream: upstream}
}

// TakeBytes returns up to n bytes drawn from upstream (buffered leftovers
// first), or fewer than n with a nil error if upstream is exhausted. A
// second call after exhaustion returns an empty slice and nil error.
func (r *Rechunker) TakeBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("rechunk: negative take size %d", n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, 0, n)

	if len(r.buffer) > 0 {
		take := len(r.buffer)
		if take > n {
			take = n
		}
		out = append(out, r.buffer[:take]...)
		r.buffer = r.buffer[take:]
	}

	buf := make([]byte, readBufSize)
	for len(out) < n && !r.eof {
		readN, err := r.upstream.Read(buf)
		if readN > 0 {
			need := n - len(out)
			if readN <= need {
				out = append(out, buf[:readN]...)
			} else {
				out = append(out, buf[:need]...)
				leftover := make([]byte, readN-need)
				copy(leftover, buf[need:readN])
				r.buffer = append(r.buffer, leftover...)
			}
		}
		if err == io.EOF {
			r.eof = true
			break
		}
		if err != nil {
			return out, fmt.Errorf("%w: reading upstream: %v", backuperr.ErrStreamIO, err)
		}
	}

	return out, nil
}

// TakeReader is a convenience wrapper returning TakeBytes(n) as a
// *bytes.Reader, for callers that want an io.Reader to hand to an HTTP
// upload body.
func (r *Rechunker) TakeReader(n int) (*bytes.Reader, int, error) {
	b, err := r.TakeBytes(n)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(b), len(b), nil
}
