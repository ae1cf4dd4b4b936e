package zfssource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/saworbit/zfsbackup/internal/backuperr"
	"github.com/saworbit/zfsbackup/internal/diffentry"
)

// Fake is an in-memory Source for tests that exercise the backup pipeline
// without a real zfs pool. Each snapshot is recorded as a flat map of
// mount-relative path -> file or directory with its content, and Diff
// computes the change-set between two recorded snapshots directly rather
// than shelling out.
type Fake struct {
	mu        sync.Mutex
	mountRoot string
	snapshots map[string][]string      // dataset -> snapshot names, in commit order
	state     map[string]map[string]fakeFile // "dataset@snapshot" -> path -> file
}

type fakeFile struct {
	isDir   bool
	content []byte
}

// NewFake constructs an empty in-memory Source. mountRoot is reported as
// every dataset's mount path; callers that need real file bodies on disk
// (e.g. for the upload stream) should write them under mountRoot themselves
// and mirror the same paths into PutFile/PutDir.
func NewFake(mountRoot string) *Fake {
	return &Fake{
		mountRoot: mountRoot,
		snapshots: make(map[string][]string),
		state:     make(map[string]map[string]fakeFile),
	}
}

func fakeKey(dataset Dataset, snapshot string) string {
	return dataset.String() + "@" + snapshot
}

// PutFile records path as present (as a regular file with the given
// content) in the dataset's pending tree. It must be called before the
// snapshot is taken, building up the tree that TakeSnapshot freezes.
func (f *Fake) PutFile(dataset Dataset, path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingTree(dataset)[path] = fakeFile{content: content}
}

// PutDir records path as present as a directory in the pending tree.
func (f *Fake) PutDir(dataset Dataset, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingTree(dataset)[path] = fakeFile{isDir: true}
}

// RemovePath removes path from the pending tree ahead of the next snapshot.
func (f *Fake) RemovePath(dataset Dataset, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pendingTree(dataset), path)
}

const pendingSuffix = "@@pending"

func (f *Fake) pendingTree(dataset Dataset) map[string]fakeFile {
	key := dataset.String() + pendingSuffix
	tree, ok := f.state[key]
	if !ok {
		tree = make(map[string]fakeFile)
		f.state[key] = tree
	}
	return tree
}

func (f *Fake) TakeSnapshot(_ context.Context, dataset Dataset, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.snapshots[dataset.String()] {
		if existing == name {
			return fmt.Errorf("%w: %s@%s", backuperr.ErrSnapshotExists, dataset, name)
		}
	}

	frozen := make(map[string]fakeFile)
	for k, v := range f.pendingTree(dataset) {
		frozen[k] = v
	}
	f.state[fakeKey(dataset, name)] = frozen
	f.snapshots[dataset.String()] = append(f.snapshots[dataset.String()], name)
	return nil
}

func (f *Fake) SnapshotExists(_ context.Context, dataset Dataset, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.snapshots[dataset.String()] {
		if existing == name {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) ListSnapshots(_ context.Context, dataset Dataset) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.snapshots[dataset.String()]))
	copy(out, f.snapshots[dataset.String()])
	return out, nil
}

func (f *Fake) MountPath(_ context.Context, _ Dataset) (string, error) {
	return f.mountRoot, nil
}

func (f *Fake) SnapshotMountPath(_ context.Context, _ Dataset, _ string) (string, error) {
	return f.mountRoot, nil
}

func (f *Fake) Diff(_ context.Context, dataset Dataset, previous *string, current string) ([]diffentry.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	currentTree, ok := f.state[fakeKey(dataset, current)]
	if !ok {
		return nil, fmt.Errorf("zfssource/fake: snapshot %s@%s was never taken", dataset, current)
	}

	if previous == nil {
		var paths []string
		for p := range currentTree {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		entries := make([]diffentry.Raw, 0, len(paths))
		for _, p := range paths {
			file := currentTree[p]
			kind := diffentry.RegularFile
			if file.isDir {
				kind = diffentry.Directory
			}
			entries = append(entries, diffentry.Raw{
				Path: p, Kind: kind,
				Change: diffentry.Change[diffentry.Unit]{Kind: diffentry.Created},
			})
		}
		return entries, nil
	}

	prevTree, ok := f.state[fakeKey(dataset, *previous)]
	if !ok {
		return nil, fmt.Errorf("zfssource/fake: snapshot %s@%s was never taken", dataset, *previous)
	}

	var paths []string
	seen := make(map[string]bool)
	for p := range prevTree {
		paths = append(paths, p)
		seen[p] = true
	}
	for p := range currentTree {
		if !seen[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var entries []diffentry.Raw
	for _, p := range paths {
		before, hadBefore := prevTree[p]
		after, hasAfter := currentTree[p]

		kind := diffentry.RegularFile
		switch {
		case hasAfter && after.isDir:
			kind = diffentry.Directory
		case hadBefore && before.isDir:
			kind = diffentry.Directory
		}

		switch {
		case !hadBefore && hasAfter:
			entries = append(entries, diffentry.Raw{
				Path: p, Kind: kind,
				Change: diffentry.Change[diffentry.Unit]{Kind: diffentry.Created},
			})
		case hadBefore && !hasAfter:
			entries = append(entries, diffentry.Raw{
				Path: p, Kind: kind,
				Change: diffentry.Change[diffentry.Unit]{Kind: diffentry.Removed},
			})
		case hadBefore && hasAfter && !before.isDir && !after.isDir && string(before.content) != string(after.content):
			entries = append(entries, diffentry.Raw{
				Path: p, Kind: kind,
				Change: diffentry.Change[diffentry.Unit]{Kind: diffentry.Modified},
			})
		}
	}
	return entries, nil
}
