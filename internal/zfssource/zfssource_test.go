package zfssource

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/saworbit/zfsbackup/internal/backuperr"
	"github.com/saworbit/zfsbackup/internal/diffentry"
)

func TestFakeTakeSnapshotRejectsDuplicateName(t *testing.T) {
	f := NewFake(t.TempDir())
	ds := Dataset{Pool: "tank", Name: "data"}
	ctx := context.Background()

	if err := f.TakeSnapshot(ctx, ds, "snap0"); err != nil {
		t.Fatalf("TakeSnapshot() error = %v", err)
	}
	err := f.TakeSnapshot(ctx, ds, "snap0")
	if !errors.Is(err, backuperr.ErrSnapshotExists) {
		t.Fatalf("TakeSnapshot() error = %v, want ErrSnapshotExists", err)
	}
}

func TestFakeListAndExistsSnapshots(t *testing.T) {
	f := NewFake(t.TempDir())
	ds := Dataset{Pool: "tank", Name: "data"}
	ctx := context.Background()

	for _, name := range []string{"snap0", "snap1"} {
		if err := f.TakeSnapshot(ctx, ds, name); err != nil {
			t.Fatalf("TakeSnapshot(%s) error = %v", name, err)
		}
	}

	names, err := f.ListSnapshots(ctx, ds)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(names) != 2 || names[0] != "snap0" || names[1] != "snap1" {
		t.Fatalf("ListSnapshots() = %v, want [snap0 snap1]", names)
	}

	exists, err := f.SnapshotExists(ctx, ds, "snap1")
	if err != nil || !exists {
		t.Fatalf("SnapshotExists(snap1) = %v, %v, want true, nil", exists, err)
	}
	exists, err = f.SnapshotExists(ctx, ds, "snap2")
	if err != nil || exists {
		t.Fatalf("SnapshotExists(snap2) = %v, %v, want false, nil", exists, err)
	}
}

func TestFakeDiffFirstSnapshotIsFullWalk(t *testing.T) {
	f := NewFake(t.TempDir())
	ds := Dataset{Pool: "tank", Name: "data"}
	ctx := context.Background()

	f.PutFile(ds, "a.txt", []byte("hello"))
	f.PutDir(ds, "sub")
	f.PutFile(ds, "sub/b.txt", []byte("world"))
	if err := f.TakeSnapshot(ctx, ds, "snap0"); err != nil {
		t.Fatalf("TakeSnapshot() error = %v", err)
	}

	entries, err := f.Diff(ctx, ds, nil, "snap0")
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Diff() returned %d entries, want 3: %+v", len(entries), entries)
	}
	for _, e := range entries {
		if e.Change.Kind != diffentry.Created {
			t.Errorf("entry %s has change kind %v, want Created", e.Path, e.Change.Kind)
		}
	}
}

func TestFakeDiffBetweenSnapshots(t *testing.T) {
	f := NewFake(t.TempDir())
	ds := Dataset{Pool: "tank", Name: "data"}
	ctx := context.Background()

	f.PutFile(ds, "keep.txt", []byte("same"))
	f.PutFile(ds, "removed.txt", []byte("gone soon"))
	f.PutFile(ds, "changed.txt", []byte("before"))
	if err := f.TakeSnapshot(ctx, ds, "snap0"); err != nil {
		t.Fatalf("TakeSnapshot(snap0) error = %v", err)
	}

	f.RemovePath(ds, "removed.txt")
	f.PutFile(ds, "changed.txt", []byte("after"))
	f.PutFile(ds, "added.txt", []byte("new"))
	if err := f.TakeSnapshot(ctx, ds, "snap1"); err != nil {
		t.Fatalf("TakeSnapshot(snap1) error = %v", err)
	}

	previous := "snap0"
	entries, err := f.Diff(ctx, ds, &previous, "snap1")
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}

	got := make(map[string]diffentry.ChangeKind)
	for _, e := range entries {
		got[e.Path] = e.Change.Kind
	}

	want := map[string]diffentry.ChangeKind{
		"removed.txt": diffentry.Removed,
		"changed.txt": diffentry.Modified,
		"added.txt":   diffentry.Created,
	}
	if len(got) != len(want) {
		t.Fatalf("Diff() = %v, want %v", got, want)
	}
	for path, wantKind := range want {
		if got[path] != wantKind {
			t.Errorf("entry %s has change kind %v, want %v", path, got[path], wantKind)
		}
	}
	if _, present := got["keep.txt"]; present {
		t.Errorf("unchanged path keep.txt should not appear in the diff")
	}
}

func TestFakeDiffUnknownSnapshotErrors(t *testing.T) {
	f := NewFake(t.TempDir())
	ds := Dataset{Pool: "tank", Name: "data"}
	ctx := context.Background()

	if _, err := f.Diff(ctx, ds, nil, "never-taken"); err == nil {
		t.Fatal("expected Diff() to error on an unknown snapshot")
	}
}

func TestDatasetString(t *testing.T) {
	ds := Dataset{Pool: "tank", Name: "data/sub"}
	if got, want := ds.String(), "tank/data/sub"; got != want {
		t.Fatalf("Dataset.String() = %q, want %q", got, want)
	}
}

func TestFakeMountPath(t *testing.T) {
	root := t.TempDir()
	f := NewFake(root)
	ds := Dataset{Pool: "tank", Name: "data"}
	ctx := context.Background()

	got, err := f.MountPath(ctx, ds)
	if err != nil {
		t.Fatalf("MountPath() error = %v", err)
	}
	if got != root {
		t.Fatalf("MountPath() = %q, want %q", got, root)
	}
}

func sortedPaths(entries []diffentry.Raw) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	sort.Strings(paths)
	return paths
}
