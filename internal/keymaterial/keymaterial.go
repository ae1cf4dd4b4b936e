// Package keymaterial derives and seals the cryptographic keys used to
// protect snapshot bodies and hot metadata: a password-derived key-encrypting
// key (KEK), a random long-lived content key sealed under the KEK, and
// per-purpose sub-keys derived from the content key via Argon2id. The
// snapshot-name sub-key keys a BLAKE3 hash of snapshot names.
package keymaterial

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"lukechampine.com/blake3"
)

const (
	// KeySize is the width, in bytes, of every AES-256 key this package
	// produces: the KEK, the content key, and any derived sub-key.
	KeySize = 32

	// SealedContentKeySize is the width of an AES-256-GCM-sealed content
	// key: 32 bytes of ciphertext plus a 16-byte authentication tag.
	SealedContentKeySize = KeySize + 16

	// SaltSize is the width of every random salt this package generates.
	SaltSize = 16
)

// sealNonce is the fixed all-zero 12-byte nonce used exclusively to seal the
// content key under the KEK. Safe only because a KEK ever seals exactly one
// content key in its lifetime (change-password derives a brand new KEK
// rather than reusing the old one with a fresh nonce).
var sealNonce = make([]byte, 12)

// DeriveKEK derives a 32-byte key-encrypting key from password and salt
// using Argon2id with conservative defaults suitable for an interactive
// CLI tool (not a high-throughput server).
func DeriveKEK(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 3, 64*1024, 4, KeySize)
}

// NewSalt generates a fresh random 16-byte salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keymaterial: generating salt: %w", err)
	}
	return salt, nil
}

// NewContentKey generates a fresh random 32-byte content key, used for the
// lifetime of a single bucket's backups until change-password re-seals it.
func NewContentKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keymaterial: generating content key: %w", err)
	}
	return key, nil
}

// SealContentKey encrypts contentKey under kek with the fixed zero nonce.
func SealContentKey(kek, contentKey []byte) ([]byte, error) {
	gcm, err := newGCM(kek)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, sealNonce, contentKey, nil), nil
}

// OpenContentKey decrypts a sealed content key under kek, failing with a
// plain authentication error (the caller maps this to PasswordMismatch when
// it stems from a wrong password).
func OpenContentKey(kek, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(kek)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, sealNonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: opening sealed content key: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: constructing AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: constructing GCM: %w", err)
	}
	return gcm, nil
}

// DeriveSubKey derives a per-purpose 32-byte sub-key from the content key
// and a use-specific salt, via Argon2id — the same primitive used for the
// password KEK, so a single "slow KDF" dependency covers both derivations.
func DeriveSubKey(contentKey, salt []byte) []byte {
	return argon2.IDKey(contentKey, salt, 3, 64*1024, 4, KeySize)
}

// SnapshotNameHasher returns a BLAKE3 hasher keyed with the snapshot-name
// sub-key, used to produce the hex digest that replaces a snapshot name in
// part object keys when encrypt_snapshot_names is enabled.
func SnapshotNameHasher(snapshotNameSubKey []byte) (*blake3.Hasher, error) {
	var key [32]byte
	if len(snapshotNameSubKey) != 32 {
		return nil, fmt.Errorf("keymaterial: snapshot name sub-key must be 32 bytes, got %d", len(snapshotNameSubKey))
	}
	copy(key[:], snapshotNameSubKey)
	return blake3.New(32, key[:]), nil
}

// HashSnapshotName returns the hex-encoded keyed-BLAKE3 digest of name under
// the given sub-key, the value used as key_snapshot_name in part object keys.
func HashSnapshotName(snapshotNameSubKey []byte, name string) (string, error) {
	h, err := SnapshotNameHasher(snapshotNameSubKey)
	if err != nil {
		return "", err
	}
	h.Write([]byte(name))
	sum := h.Sum(nil)
	return fmt.Sprintf("%x", sum), nil
}
