package integrity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Manifest is the hex-encoded, JSON-serialized record of a snapshot's part
// digests and their Merkle root, uploaded alongside a snapshot's part
// objects so the bucket's committed bytes can later be re-checked without
// diffing full part bodies against each other (see VerifyManifest).
type Manifest struct {
	Root    string   `json:"root"`
	Digests []string `json:"digests"`
}

// EncodeManifest builds the on-the-wire form of a snapshot's verification
// manifest from its ordered part digests and Merkle root.
func EncodeManifest(digests [][]byte, root []byte) ([]byte, error) {
	m := Manifest{Root: hex.EncodeToString(root)}
	for _, d := range digests {
		m.Digests = append(m.Digests, hex.EncodeToString(d))
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("integrity: encoding manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses a manifest object back into its raw digests and
// root, ready for VerifyManifest.
func DecodeManifest(data []byte) (digests [][]byte, root []byte, err error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("integrity: decoding manifest: %w", err)
	}
	root, err = hex.DecodeString(m.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("integrity: decoding manifest root: %w", err)
	}
	digests = make([][]byte, 0, len(m.Digests))
	for _, h := range m.Digests {
		d, err := hex.DecodeString(h)
		if err != nil {
			return nil, nil, fmt.Errorf("integrity: decoding manifest digest: %w", err)
		}
		digests = append(digests, d)
	}
	return digests, root, nil
}

// VerifyEncodedManifest decodes data and re-verifies its digests against its
// own recorded root, as for a manifest object downloaded from the bucket.
func VerifyEncodedManifest(data []byte) error {
	digests, root, err := DecodeManifest(data)
	if err != nil {
		return err
	}
	return VerifyManifest(digests, root)
}
