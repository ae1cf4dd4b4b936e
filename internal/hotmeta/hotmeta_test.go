package hotmeta

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

func TestNotEncryptedRoundTrip(t *testing.T) {
	snapshots := []string{"snap0", "snap1", "snap2"}
	data := EncodeNotEncrypted(snapshots)

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Encrypted {
		t.Fatal("expected Encrypted = false")
	}
	if !reflect.DeepEqual(decoded.Snapshots, snapshots) {
		t.Fatalf("got %v, want %v", decoded.Snapshots, snapshots)
	}
}

func TestNotEncryptedEmptyList(t *testing.T) {
	data := EncodeNotEncrypted(nil)
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(decoded.Snapshots) != 0 {
		t.Fatalf("expected empty snapshot list, got %v", decoded.Snapshots)
	}
}

func testContentKey() []byte {
	return bytes.Repeat([]byte{0x5A}, 32)
}

func TestEncryptedRoundTrip(t *testing.T) {
	contentKey := testContentKey()
	snapshots := []string{"snap0", "snap1"}

	ciphertext, err := EncryptSnapshots(contentKey, snapshots)
	if err != nil {
		t.Fatalf("EncryptSnapshots() error = %v", err)
	}

	envelope := &Envelope{
		KEKSalt:          bytes.Repeat([]byte{0x01}, 16),
		SealedContentKey: bytes.Repeat([]byte{0x02}, 48),
		BlakeSalt:        bytes.Repeat([]byte{0x03}, 16),
		GCMSalt:          nil,
	}
	data := EncodeEncrypted(envelope, ciphertext)

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !decoded.Encrypted {
		t.Fatal("expected Encrypted = true")
	}
	if !bytes.Equal(decoded.Envelope.KEKSalt, envelope.KEKSalt) {
		t.Fatal("KEKSalt mismatch after decode")
	}
	if !bytes.Equal(decoded.Envelope.SealedContentKey, envelope.SealedContentKey) {
		t.Fatal("SealedContentKey mismatch after decode")
	}
	if !bytes.Equal(decoded.Envelope.BlakeSalt, envelope.BlakeSalt) {
		t.Fatal("BlakeSalt mismatch after decode")
	}
	if len(decoded.Envelope.GCMSalt) != 0 {
		t.Fatalf("expected empty GCMSalt, got %v", decoded.Envelope.GCMSalt)
	}

	gotSnapshots, err := DecryptSnapshots(contentKey, decoded.Ciphertext)
	if err != nil {
		t.Fatalf("DecryptSnapshots() error = %v", err)
	}
	if !reflect.DeepEqual(gotSnapshots, snapshots) {
		t.Fatalf("got %v, want %v", gotSnapshots, snapshots)
	}
}

func TestDecryptSnapshotsWrongKeyFails(t *testing.T) {
	contentKey := testContentKey()
	ciphertext, err := EncryptSnapshots(contentKey, []string{"snap0"})
	if err != nil {
		t.Fatalf("EncryptSnapshots() error = %v", err)
	}

	wrongKey := bytes.Repeat([]byte{0x99}, 32)
	if _, err := DecryptSnapshots(wrongKey, ciphertext); err == nil {
		t.Fatal("expected DecryptSnapshots() to fail with the wrong content key")
	}
}

func TestDecodeCorruptData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad shape byte", []byte{0xFF}},
		{"truncated not-encrypted", []byte{shapeNotEncrypted, 0x05}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, backuperr.ErrHotMetadataCorrupt) {
				t.Fatalf("Decode() error = %v, want ErrHotMetadataCorrupt", err)
			}
		})
	}
}

func TestAppendIfAbsent(t *testing.T) {
	tests := []struct {
		name      string
		snapshots []string
		add       string
		want      []string
	}{
		{"append to empty", nil, "snap0", []string{"snap0"}},
		{"append new", []string{"snap0"}, "snap1", []string{"snap0", "snap1"}},
		{"already last is no-op", []string{"snap0", "snap1"}, "snap1", []string{"snap0", "snap1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendIfAbsent(tt.snapshots, tt.add)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
