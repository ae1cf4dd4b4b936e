// Package diffentry implements the typed representation of per-path
// filesystem changes between two snapshots: the zfs-diff line parser, the
// first-backup recursive walk, and the canonical binary record codec used to
// carry a resolved entry through the upload stream.
package diffentry

import "fmt"

// FileKind distinguishes the two kinds of path this system backs up.
// Symlinks, devices, and sockets are rejected before a DiffEntry is built.
type FileKind uint8

const (
	RegularFile FileKind = iota
	Directory
)

func (k FileKind) String() string {
	switch k {
	case RegularFile:
		return "file"
	case Directory:
		return "directory"
	default:
		return fmt.Sprintf("FileKind(%d)", uint8(k))
	}
}

// ChangeKind tags what happened to a path between two snapshots.
type ChangeKind uint8

const (
	Removed ChangeKind = iota
	Created
	Modified
	Renamed
)

func (k ChangeKind) String() string {
	switch k {
	case Removed:
		return "removed"
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Renamed:
		return "renamed"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}

// Change carries the tagged-union payload of a DiffEntry. Content is only
// meaningful when Kind is Created or Modified; RenameTo only when Kind is
// Renamed. M is `struct{}` for a freshly parsed, unresolved entry and
// `*FileMetadata` once the pipeline has stat'd the file (nil for
// directories, a non-nil pointer for regular files — this is exactly the
// `Option<FileMetadata>` the design calls for).
type Change[M any] struct {
	Kind     ChangeKind
	Content  M
	RenameTo string
}

// DiffEntry is the immutable record carried through the diff, optimizer, and
// upload-stream pipeline.
type DiffEntry[M any] struct {
	// Path is always relative to the dataset mount point and never contains
	// an extended-attribute directory marker.
	Path   string
	Kind   FileKind
	Change Change[M]
}

// FileMetadata is the resolved stat() payload for a regular file.
type FileMetadata struct {
	Len   uint64
	Mtime *int64 // unix nanoseconds, nil if unavailable
	Atime *int64
	Ctime *int64
}

// Unit is the unresolved content-metadata payload produced by the parser and
// the recursive walk, before per-file stat resolution.
type Unit = struct{}

// Raw is a freshly parsed or walked entry, before FileMetadata resolution.
type Raw = DiffEntry[Unit]

// Resolved is a diff entry whose Content has been stat-resolved: nil for
// directories, non-nil for regular files with change kind Created/Modified.
type Resolved = DiffEntry[*FileMetadata]

// MapUnit lifts a Raw entry into a Resolved one carrying no metadata yet
// (content == nil). Callers fill Content in for Created/Modified regular
// files during the Diff step's stat fan-out.
func (e Raw) MapUnit() Resolved {
	return Resolved{
		Path: e.Path,
		Kind: e.Kind,
		Change: Change[*FileMetadata]{
			Kind:     e.Change.Kind,
			RenameTo: e.Change.RenameTo,
		},
	}
}
