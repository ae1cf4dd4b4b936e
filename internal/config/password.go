package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// PasswordSourceKind tags how a PasswordSource's bytes are obtained.
type PasswordSourceKind string

const (
	PasswordPlain PasswordSourceKind = "plain"
	PasswordHex   PasswordSourceKind = "hex"
	PasswordFile  PasswordSourceKind = "file"
)

// PasswordSource is a discriminated union over the three ways the
// encryption password can be supplied: literal bytes in the config file,
// a hex string in the config file, or a path to a file holding the raw
// bytes (so the config file itself can stay non-secret).
type PasswordSource struct {
	Kind  PasswordSourceKind
	Value string
}

type passwordSourceJSON struct {
	Kind  PasswordSourceKind `json:"kind"`
	Value string             `json:"value"`
}

func (p PasswordSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(passwordSourceJSON{Kind: p.Kind, Value: p.Value})
}

func (p *PasswordSource) UnmarshalJSON(data []byte) error {
	var raw passwordSourceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: decoding password source: %w", err)
	}
	switch raw.Kind {
	case PasswordPlain, PasswordHex, PasswordFile:
	default:
		return fmt.Errorf("config: unrecognized password source kind %q", raw.Kind)
	}
	p.Kind = raw.Kind
	p.Value = raw.Value
	return nil
}

// Bytes resolves the password source to its raw byte form: the literal
// string's bytes for Plain, decoded hex for Hex, or the full contents of
// the referenced file for File.
func (p PasswordSource) Bytes() ([]byte, error) {
	switch p.Kind {
	case PasswordPlain:
		return []byte(p.Value), nil
	case PasswordHex:
		b, err := hex.DecodeString(p.Value)
		if err != nil {
			return nil, fmt.Errorf("config: decoding hex password: %w", err)
		}
		return b, nil
	case PasswordFile:
		b, err := os.ReadFile(p.Value)
		if err != nil {
			return nil, fmt.Errorf("config: reading password file %s: %w", p.Value, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("config: unrecognized password source kind %q", p.Kind)
	}
}
