package diffopt

import (
	"reflect"
	"testing"

	"github.com/saworbit/zfsbackup/internal/diffentry"
)

func entry(path string, kind diffentry.FileKind, change diffentry.ChangeKind) diffentry.Raw {
	return diffentry.Raw{Path: path, Kind: kind, Change: diffentry.Change[diffentry.Unit]{Kind: change}}
}

func TestOptimizeRemovesModifiedFolder(t *testing.T) {
	folder := entry("folder", diffentry.Directory, diffentry.Modified)
	file := entry("folder/file", diffentry.RegularFile, diffentry.Created)

	got := Optimize([]diffentry.Raw{folder, file})
	want := []diffentry.Raw{file}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestOptimizeRemovesCreatedFolder(t *testing.T) {
	folder := entry("folder", diffentry.Directory, diffentry.Created)
	file := entry("folder/file", diffentry.RegularFile, diffentry.Created)

	got := Optimize([]diffentry.Raw{folder, file})
	want := []diffentry.Raw{file}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestOptimizePreservesEmptyCreatedFolders(t *testing.T) {
	folder := entry("folder", diffentry.Directory, diffentry.Created)

	got := Optimize([]diffentry.Raw{folder})
	want := []diffentry.Raw{folder}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestOptimizeRemovesDeletedFilesInFolder(t *testing.T) {
	folder := entry("folder", diffentry.Directory, diffentry.Removed)
	file := entry("folder/file", diffentry.RegularFile, diffentry.Removed)

	got := Optimize([]diffentry.Raw{folder, file})
	want := []diffentry.Raw{folder}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestOptimizeKeepsFilesWhenFolderIsNotRemoved(t *testing.T) {
	file := entry("folder/file", diffentry.RegularFile, diffentry.Removed)

	got := Optimize([]diffentry.Raw{file})
	want := []diffentry.Raw{file}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestOptimizeKeepsTwoUnrelatedRemovedFiles(t *testing.T) {
	file0 := entry("file", diffentry.RegularFile, diffentry.Removed)
	file1 := entry("file_more_name", diffentry.RegularFile, diffentry.Removed)

	got := Optimize([]diffentry.Raw{file0, file1})
	want := []diffentry.Raw{file0, file1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestOptimizeHandlesNestedEmptyFolderChain(t *testing.T) {
	// A chain of modified folders should all collapse, regardless of order,
	// exercising the re-check of an entry that shifts into the current index
	// after a removal.
	a := entry("a", diffentry.Directory, diffentry.Modified)
	b := entry("a/b", diffentry.Directory, diffentry.Modified)
	file := entry("a/b/file", diffentry.RegularFile, diffentry.Created)

	got := Optimize([]diffentry.Raw{a, b, file})
	want := []diffentry.Raw{file}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
