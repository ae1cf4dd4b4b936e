// Package streamcipher implements chunked authenticated encryption
// equivalent to "AES-256-GCM in a STREAM-BE32 construction": plaintext is
// split into fixed-size chunks, each sealed independently with a nonce built
// from a per-stream prefix and a big-endian chunk counter, with a one-bit
// end-of-stream marker folded into the final chunk's nonce so truncation is
// detectable. No ready-made Go implementation of this specific construction
// was found among the retrieved dependencies, so it is built directly on
// crypto/aes and crypto/cipher, matching how the rest of this codebase
// treats GCM as a primitive rather than reaching for a higher-level wrapper.
package streamcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// ChunkSize is the fixed plaintext chunk size: 10,000,000 bytes, a multiple
// of 64. Every chunk except the last is exactly this size.
const ChunkSize = 10_000_000

// TagSize is the authentication tag appended to every ciphertext chunk.
const TagSize = 16

// NonceSize is the width of the per-stream nonce prefix fed to NewWriter and
// NewReader (not the full 12-byte AES-GCM nonce, which also folds in the
// chunk counter and end-of-stream bit).
const NonceSize = 7

// NonceFromCommitCount encodes count, the number of snapshots previously
// committed, as the big-endian 7-byte stream nonce prefix. Counts whose
// high byte would be non-zero (count >= 2^56) are rejected.
func NonceFromCommitCount(count uint64) ([]byte, error) {
	if count>>56 != 0 {
		return nil, fmt.Errorf("%w: commit count %d exceeds 2^56", backuperr.ErrNonceExhausted, count)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], count)
	return buf[1:], nil // drop the always-zero high byte, keep the low 7
}

// Writer seals one chunk at a time and must be told, up front, how many
// total chunks the plaintext will produce, so it can mark the final call.
type Writer struct {
	aead        cipher.AEAD
	noncePrefix [NonceSize]byte
	totalChunks uint64
	nextChunk   uint64
}

// NewWriter constructs a Writer over contentKey (32 bytes) and the 7-byte
// stream nonce prefix, expecting exactly totalChunks calls to Seal.
func NewWriter(contentKey, noncePrefix []byte, totalChunks uint64) (*Writer, error) {
	return NewWriterAt(contentKey, noncePrefix, totalChunks, 0)
}

// NewWriterAt constructs a Writer resuming at startChunk rather than chunk
// zero: since the chunk nonce is derived solely from the stream prefix and
// the chunk index, a Writer rebuilt after a crash with the same prefix and
// startChunk produces byte-identical ciphertext to one that ran through
// uninterrupted, provided startChunk lands on a real chunk boundary.
func NewWriterAt(contentKey, noncePrefix []byte, totalChunks, startChunk uint64) (*Writer, error) {
	if len(noncePrefix) != NonceSize {
		return nil, fmt.Errorf("streamcipher: nonce prefix must be %d bytes, got %d", NonceSize, len(noncePrefix))
	}
	aead, err := newAEAD(contentKey)
	if err != nil {
		return nil, err
	}
	w := &Writer{aead: aead, totalChunks: totalChunks, nextChunk: startChunk}
	copy(w.noncePrefix[:], noncePrefix)
	return w, nil
}

// Seal encrypts one plaintext chunk (at most ChunkSize bytes) and returns
// the ciphertext chunk (plaintext length + TagSize bytes). Callers must call
// Seal exactly totalChunks times, in order; the last call is automatically
// treated as the end-of-stream chunk.
func (w *Writer) Seal(plaintext []byte) ([]byte, error) {
	if w.nextChunk >= w.totalChunks {
		return nil, fmt.Errorf("%w: Seal called more than totalChunks (%d) times", backuperr.ErrCipherFailed, w.totalChunks)
	}
	last := w.nextChunk == w.totalChunks-1
	nonce := chunkNonce(w.noncePrefix, w.nextChunk, last)
	w.nextChunk++
	return w.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Reader reverses Writer, decrypting chunk by chunk.
type Reader struct {
	aead        cipher.AEAD
	noncePrefix [NonceSize]byte
	totalChunks uint64
	nextChunk   uint64
}

// NewReader constructs a Reader over the same parameters used by NewWriter.
func NewReader(contentKey, noncePrefix []byte, totalChunks uint64) (*Reader, error) {
	if len(noncePrefix) != NonceSize {
		return nil, fmt.Errorf("streamcipher: nonce prefix must be %d bytes, got %d", NonceSize, len(noncePrefix))
	}
	aead, err := newAEAD(contentKey)
	if err != nil {
		return nil, err
	}
	r := &Reader{aead: aead, totalChunks: totalChunks}
	copy(r.noncePrefix[:], noncePrefix)
	return r, nil
}

// Open decrypts one ciphertext chunk, verifying its authentication tag and
// its position (start-of-stream vs. end-of-stream) in the chunk sequence.
func (r *Reader) Open(ciphertext []byte) ([]byte, error) {
	if r.nextChunk >= r.totalChunks {
		return nil, fmt.Errorf("%w: Open called more than totalChunks (%d) times", backuperr.ErrCipherFailed, r.totalChunks)
	}
	last := r.nextChunk == r.totalChunks-1
	nonce := chunkNonce(r.noncePrefix, r.nextChunk, last)
	r.nextChunk++
	plaintext, err := r.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d: %v", backuperr.ErrCipherFailed, r.nextChunk-1, err)
	}
	return plaintext, nil
}

// TotalChunks returns the number of ChunkSize-sized chunks (the last
// possibly shorter) that plaintextLen bytes split into; plaintextLen == 0
// still yields 1, since an empty stream is still exactly one (empty,
// end-of-stream) chunk.
func TotalChunks(plaintextLen int64) uint64 {
	if plaintextLen <= 0 {
		return 1
	}
	return uint64((plaintextLen + ChunkSize - 1) / ChunkSize)
}

// CiphertextLen returns the total ciphertext length for a plaintext of the
// given length: one TagSize overhead per chunk.
func CiphertextLen(plaintextLen int64) int64 {
	return plaintextLen + int64(TotalChunks(plaintextLen))*TagSize
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("streamcipher: constructing AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("streamcipher: constructing GCM: %w", err)
	}
	return gcm, nil
}

// chunkNonce builds the 12-byte GCM nonce for a chunk: the 7-byte stream
// prefix, a big-endian 4-byte chunk counter, and a final byte whose low bit
// carries the end-of-stream flag (the STREAM-BE32 construction's "last
// block" marker, here folded into the nonce rather than a separate tag
// field since Go's crypto/cipher.AEAD has no room for extra associated
// state beyond the nonce and additional data).
func chunkNonce(prefix [NonceSize]byte, chunkIndex uint64, last bool) []byte {
	nonce := make([]byte, 12)
	copy(nonce, prefix[:])
	binary.BigEndian.PutUint32(nonce[7:11], uint32(chunkIndex))
	if last {
		nonce[11] = 1
	} else {
		nonce[11] = 0
	}
	return nonce
}

// CopyChunks reads plaintext from r in ChunkSize pieces, seals each with w,
// and writes the resulting ciphertext chunks to out, until r is exhausted.
func CopyChunks(out io.Writer, w *Writer, r io.Reader) error {
	buf := make([]byte, ChunkSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			ciphertext, err := w.Seal(buf[:n])
			if err != nil {
				return err
			}
			if _, err := out.Write(ciphertext); err != nil {
				return fmt.Errorf("%w: writing ciphertext chunk: %v", backuperr.ErrStreamIO, err)
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("%w: reading plaintext chunk: %v", backuperr.ErrStreamIO, readErr)
		}
	}
}
