// Package hotmeta reads and writes the bucket's hot-metadata object: the
// only globally mutable state in the system, naming every committed
// snapshot and, when encryption is enabled, the envelope needed to recover
// the content key.
package hotmeta

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// ObjectKey is the fixed bucket key the hot-metadata object lives at.
const ObjectKey = "hot_data"

// hotMetaZeroNonce is the fixed all-zero 12-byte nonce used to encrypt the
// snapshot list under the content key. Safe only because this object is
// always fully rewritten: see the nonce-domain-separation note on
// EncryptSnapshots.
var hotMetaZeroNonce = make([]byte, 12)

const (
	shapeNotEncrypted byte = 0
	shapeEncrypted    byte = 1
)

// Envelope carries everything needed to recover the content key from a
// password, plus the per-purpose derivation salts. Salts are generated once
// at init and never rotated except by change-password, which re-seals only
// SealedContentKey.
type Envelope struct {
	KEKSalt          []byte // 16 bytes, for Argon2 password -> KEK
	SealedContentKey []byte // 48 bytes, AES-256-GCM(KEK, zero nonce, content key)
	BlakeSalt        []byte // 16 bytes, for the snapshot-name sub-key
	GCMSalt          []byte // optional, 16 bytes or empty; reserved for a future AES-GCM-specific sub-key
}

// Decoded is the result of reading the hot-metadata object: either the
// plaintext snapshot list, or an envelope plus still-sealed ciphertext that
// the caller must decrypt with the content key once it has a password.
type Decoded struct {
	Encrypted bool
	Snapshots []string // populated only when !Encrypted
	Envelope  *Envelope
	Ciphertext []byte // populated only when Encrypted
}

// EncodeNotEncrypted encodes a plaintext hot-metadata object.
func EncodeNotEncrypted(snapshots []string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(shapeNotEncrypted)
	writeStringList(&buf, snapshots)
	return buf.Bytes()
}

// EncodeEncrypted encodes an encrypted hot-metadata object: the envelope in
// the clear, followed by a ciphertext blob produced by EncryptSnapshots.
func EncodeEncrypted(envelope *Envelope, ciphertext []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(shapeEncrypted)
	writeVarintBytes(&buf, envelope.KEKSalt)
	writeVarintBytes(&buf, envelope.SealedContentKey)
	writeVarintBytes(&buf, envelope.BlakeSalt)
	writeVarintBytes(&buf, envelope.GCMSalt)
	writeVarintBytes(&buf, ciphertext)
	return buf.Bytes()
}

// Decode parses a hot-metadata object produced by EncodeNotEncrypted or
// EncodeEncrypted.
func Decode(data []byte) (*Decoded, error) {
	r := bytes.NewReader(data)
	shape, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: reading shape byte: %v", backuperr.ErrHotMetadataCorrupt, err)
	}

	switch shape {
	case shapeNotEncrypted:
		snapshots, err := readStringList(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading snapshots: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		return &Decoded{Encrypted: false, Snapshots: snapshots}, nil

	case shapeEncrypted:
		kekSalt, err := readVarintBytes(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading kek salt: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		sealedKey, err := readVarintBytes(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading sealed content key: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		blakeSalt, err := readVarintBytes(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading blake salt: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		gcmSalt, err := readVarintBytes(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading gcm salt: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		ciphertext, err := readVarintBytes(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading ciphertext: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		return &Decoded{
			Encrypted: true,
			Envelope: &Envelope{
				KEKSalt:          kekSalt,
				SealedContentKey: sealedKey,
				BlakeSalt:        blakeSalt,
				GCMSalt:          gcmSalt,
			},
			Ciphertext: ciphertext,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unrecognized shape byte %d", backuperr.ErrHotMetadataCorrupt, shape)
	}
}

// EncryptSnapshots seals the snapshot list under contentKey with the fixed
// zero nonce. Safe only under strict domain separation from the snapshot
// body cipher: the content key's zero-nonce AES-GCM key is used exclusively
// for this object, and never for anything sealed with the 7-byte STREAM
// nonces the chunked cipher adapter uses for snapshot bodies. That
// separation is a property of how the two packages are wired together, not
// of the key itself, and must not be broken by a future caller that reuses
// contentKey with a zero nonce for something else.
func EncryptSnapshots(contentKey []byte, snapshots []string) ([]byte, error) {
	gcm, err := newGCM(contentKey)
	if err != nil {
		return nil, err
	}
	var plain bytes.Buffer
	writeStringList(&plain, snapshots)
	return gcm.Seal(nil, hotMetaZeroNonce, plain.Bytes(), nil), nil
}

// DecryptSnapshots reverses EncryptSnapshots.
func DecryptSnapshots(contentKey, ciphertext []byte) ([]string, error) {
	gcm, err := newGCM(contentKey)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, hotMetaZeroNonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting snapshot list: %v", backuperr.ErrHotMetadataCorrupt, err)
	}
	return readStringList(bytes.NewReader(plain))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("hotmeta: constructing AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func writeStringList(buf *bytes.Buffer, items []string) {
	buf.Write(varint.ToUvarint(uint64(len(items))))
	for _, s := range items {
		writeVarintBytes(buf, []byte(s))
	}
}

func readStringList(r *bytes.Reader) ([]string, error) {
	count, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	items := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		b, err := readVarintBytes(r)
		if err != nil {
			return nil, err
		}
		items = append(items, string(b))
	}
	return items, nil
}

func writeVarintBytes(buf *bytes.Buffer, b []byte) {
	buf.Write(varint.ToUvarint(uint64(len(b))))
	buf.Write(b)
}

func readVarintBytes(r *bytes.Reader) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// AppendIfAbsent returns snapshots with name appended, unless it is already
// the last element (the UpdateHotMetadata step's idempotent-append rule).
func AppendIfAbsent(snapshots []string, name string) []string {
	if len(snapshots) > 0 && snapshots[len(snapshots)-1] == name {
		return snapshots
	}
	return append(snapshots, name)
}
