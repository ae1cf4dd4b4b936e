package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

func TestConfigSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{
		DatasetName:        "tank/data",
		CreateEmptyObjects: true,
		Encryption: &EncryptionConfig{
			Password:             PasswordSource{Kind: PasswordPlain, Value: "hunter2"},
			EncryptSnapshotNames: true,
		},
	}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.DatasetName != cfg.DatasetName {
		t.Errorf("DatasetName = %q, want %q", got.DatasetName, cfg.DatasetName)
	}
	if got.CreateEmptyObjects != cfg.CreateEmptyObjects {
		t.Errorf("CreateEmptyObjects = %v, want %v", got.CreateEmptyObjects, cfg.CreateEmptyObjects)
	}
	if got.Encryption == nil {
		t.Fatal("expected Encryption to round-trip non-nil")
	}
	if got.Encryption.Password.Kind != PasswordPlain || got.Encryption.Password.Value != "hunter2" {
		t.Errorf("Password = %+v, want Plain/hunter2", got.Encryption.Password)
	}
	if !got.Encryption.EncryptSnapshotNames {
		t.Error("expected EncryptSnapshotNames to round-trip true")
	}
}

func TestConfigWithoutEncryptionOmitsField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{DatasetName: "tank/data"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Encryption != nil {
		t.Errorf("Encryption = %+v, want nil", got.Encryption)
	}
}

func TestValidateRejectsEmptyDatasetName(t *testing.T) {
	cfg := &Config{DatasetName: ""}
	if err := cfg.Validate(); !errors.Is(err, backuperr.ErrConfigLoad) {
		t.Fatalf("Validate() error = %v, want ErrConfigLoad", err)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if !errors.Is(err, backuperr.ErrConfigLoad) {
		t.Fatalf("Load() error = %v, want ErrConfigLoad", err)
	}
}

func TestPasswordSourceBytes(t *testing.T) {
	tests := []struct {
		name    string
		source  PasswordSource
		want    string
		wantErr bool
	}{
		{"plain", PasswordSource{Kind: PasswordPlain, Value: "abc"}, "abc", false},
		{"hex", PasswordSource{Kind: PasswordHex, Value: "68656c6c6f"}, "hello", false},
		{"bad hex", PasswordSource{Kind: PasswordHex, Value: "zz"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.source.Bytes()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Bytes() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Bytes() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPasswordSourceFileReadsContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "password.key")
	if err := os.WriteFile(path, []byte("secret-bytes"), 0o600); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}

	src := PasswordSource{Kind: PasswordFile, Value: path}
	got, err := src.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if string(got) != "secret-bytes" {
		t.Errorf("Bytes() = %q, want secret-bytes", got)
	}
}
