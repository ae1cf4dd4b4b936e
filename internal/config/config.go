// Package config loads and atomically persists the two on-disk JSON files
// the backup tool needs to run: the user-authored Config (dataset name,
// encryption settings) and the tool-owned BackupData (bucket, region, and
// resumable progress), mirroring the teacher's DiffConfig/Validate idiom
// adapted from env-var loading to JSON file persistence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// EncryptionConfig turns on end-to-end encryption of snapshot bodies and,
// optionally, of the snapshot names themselves.
type EncryptionConfig struct {
	// Password can be changed later (see change-password), but encryption
	// cannot be toggled on or off after Config is first saved.
	Password PasswordSource `json:"password"`
	// EncryptSnapshotNames, when true, stores snapshot names in the bucket
	// as a keyed hash rather than plaintext, at the cost of requiring the
	// password to list or address snapshots by name.
	EncryptSnapshotNames bool `json:"encrypt_snapshot_names"`
}

// Config is the user-authored, rarely-changed settings file.
type Config struct {
	Encryption *EncryptionConfig `json:"encryption,omitempty"`
	// DatasetName is the zfs "pool/dataset" name, not its numeric id:
	// `zfs snapshot` takes the name.
	DatasetName string `json:"zfs_dataset_name"`
	// CreateEmptyObjects, when true, still writes a zero-byte part object
	// for a snapshot with no changes, so the bucket prefix stays visible.
	CreateEmptyObjects bool `json:"create_empty_objects"`
}

// Validate performs the same field-by-field explicit checks the teacher's
// config.Validate does.
func (c *Config) Validate() error {
	if c.DatasetName == "" {
		return fmt.Errorf("%w: zfs_dataset_name must not be empty", backuperr.ErrConfigLoad)
	}
	if c.Encryption != nil {
		switch c.Encryption.Password.Kind {
		case PasswordPlain, PasswordHex, PasswordFile:
		default:
			return fmt.Errorf("%w: invalid encryption password kind %q", backuperr.ErrConfigLoad, c.Encryption.Password.Kind)
		}
	}
	return nil
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := loadJSON(path, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", backuperr.ErrConfigLoad, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save atomically (re)writes cfg as pretty-printed JSON at path.
func (c *Config) Save(path string) error {
	return saveJSON(path, c)
}

// loadJSON reads and decodes a pretty-JSON file into v.
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// saveJSON writes v as pretty-printed JSON to path via a temp file in the
// same directory followed by an atomic rename, so a crash mid-write never
// leaves a half-written config or data file behind.
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file into place for %s: %w", path, err)
	}
	return nil
}
