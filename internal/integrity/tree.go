// Package integrity builds a Merkle tree over the multihash digests of a
// snapshot's uploaded part bodies, so that silent corruption or truncation
// of objects already committed to the bucket can be detected without
// diffing full part bodies against each other. No CLI command runs that
// check; VerifyManifest and VerifyEncodedManifest are the entry points.
package integrity

import (
	"fmt"

	"github.com/cbergoon/merkletree"
	"github.com/multiformats/go-multihash"
)

// Manager builds and caches per-snapshot integrity trees.
type Manager struct {
	treeCache map[string]*merkletree.MerkleTree
}

// NewManager creates an empty tree cache.
func NewManager() *Manager {
	return &Manager{
		treeCache: make(map[string]*merkletree.MerkleTree),
	}
}

// Content implements merkletree.Content over a part object's multihash digest.
type Content struct {
	digest []byte
}

// DigestOf computes the SHA2-256 multihash of a part body, used as both the
// leaf content and the stable identifier recorded in a verification manifest.
func DigestOf(partBody []byte) ([]byte, error) {
	return multihash.Sum(partBody, multihash.SHA2_256, -1)
}

// NewContent wraps an already-computed multihash digest.
func NewContent(digest []byte) Content {
	cp := make([]byte, len(digest))
	copy(cp, digest)
	return Content{digest: cp}
}

// CalculateHash implements merkletree.Content. The digest is already a
// cryptographic hash, so the tree uses it unmodified as the leaf hash.
func (c Content) CalculateHash() ([]byte, error) {
	return c.digest, nil
}

// Equals implements merkletree.Content.
func (c Content) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(Content)
	if !ok {
		return false, fmt.Errorf("integrity: type mismatch comparing content")
	}
	return bytesEqual(c.digest, o.digest), nil
}

// BuildTree builds a Merkle tree from the ordered list of part digests.
func (m *Manager) BuildTree(digests [][]byte) (*merkletree.MerkleTree, error) {
	if len(digests) == 0 {
		return nil, fmt.Errorf("integrity: cannot build tree from empty digest list")
	}
	contents := make([]merkletree.Content, 0, len(digests))
	for _, d := range digests {
		contents = append(contents, NewContent(d))
	}
	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, fmt.Errorf("integrity: failed to build tree: %w", err)
	}
	return tree, nil
}

// BuildAndCache builds a tree for snapshotName and retains it for later reuse.
func (m *Manager) BuildAndCache(snapshotName string, digests [][]byte) (*merkletree.MerkleTree, error) {
	tree, err := m.BuildTree(digests)
	if err != nil {
		return nil, err
	}
	m.treeCache[snapshotName] = tree
	return tree, nil
}

// GetCachedTree retrieves a previously built tree.
func (m *Manager) GetCachedTree(snapshotName string) (*merkletree.MerkleTree, bool) {
	tree, ok := m.treeCache[snapshotName]
	return tree, ok
}

// ClearCache discards every cached tree.
func (m *Manager) ClearCache() {
	m.treeCache = make(map[string]*merkletree.MerkleTree)
}

// RemoveFromCache discards a single snapshot's cached tree.
func (m *Manager) RemoveFromCache(snapshotName string) {
	delete(m.treeCache, snapshotName)
}

// Root returns the Merkle root, or nil for a nil tree.
func Root(tree *merkletree.MerkleTree) []byte {
	if tree == nil {
		return nil
	}
	return tree.MerkleRoot()
}

// VerifyTree re-checks the structural hashes of the tree against its leaves.
func VerifyTree(tree *merkletree.MerkleTree) (bool, error) {
	if tree == nil {
		return false, fmt.Errorf("integrity: cannot verify nil tree")
	}
	return tree.VerifyTree()
}

// VerifyDigest checks that digest is present as a leaf of tree.
func (m *Manager) VerifyDigest(tree *merkletree.MerkleTree, digest []byte) (bool, error) {
	if tree == nil {
		return false, fmt.Errorf("integrity: cannot verify content in nil tree")
	}
	verified, err := tree.VerifyContent(NewContent(digest))
	if err != nil {
		return false, fmt.Errorf("integrity: failed to verify content: %w", err)
	}
	return verified, nil
}

// VerifyManifest rebuilds a tree from digests and checks its root against
// expectedRoot, the root recorded in the snapshot's verification manifest.
func VerifyManifest(digests [][]byte, expectedRoot []byte) error {
	if len(digests) == 0 {
		return fmt.Errorf("integrity: cannot verify with an empty digest list")
	}
	m := NewManager()
	tree, err := m.BuildTree(digests)
	if err != nil {
		return fmt.Errorf("integrity: failed to build tree for verification: %w", err)
	}
	valid, err := VerifyTree(tree)
	if err != nil {
		return fmt.Errorf("integrity: tree verification failed: %w", err)
	}
	if !valid {
		return fmt.Errorf("integrity: tree structure is invalid")
	}
	actualRoot := Root(tree)
	if !bytesEqual(actualRoot, expectedRoot) {
		return fmt.Errorf("integrity: merkle root mismatch: expected %x, got %x", expectedRoot, actualRoot)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
