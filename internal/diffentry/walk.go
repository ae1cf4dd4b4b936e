package diffentry

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// WalkFirstBackup recursively walks root and produces one Created DiffEntry
// per directory and regular file, relative to root. There is no prior
// snapshot to diff against on a dataset's first backup, so the entire tree
// is treated as newly created. Symlinks, sockets, devices, and anything else
// that isn't a plain file or directory are rejected with ErrUnsupportedKind
// rather than silently skipped, since backing them up losslessly is outside
// this system's scope and a silent skip would corrupt the restored tree.
func WalkFirstBackup(root string) ([]Raw, error) {
	var entries []Raw

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("diffentry: walking %s: %w", path, err)
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("%w: %s: %v", backuperr.ErrPathEscapesMount, path, relErr)
		}
		rel = filepath.ToSlash(rel)

		if isXattrPath(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		kind, err := classify(d)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", backuperr.ErrUnsupportedKind, path, err)
		}

		if kind == RegularFile {
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("%w: %s: %v", backuperr.ErrStatFailed, path, err)
			}
			if err := ensureReadable(path, info); err != nil {
				return err
			}
		}

		entries = append(entries, Raw{
			Path:   rel,
			Kind:   kind,
			Change: Change[Unit]{Kind: Created},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// classify maps a directory entry to the two FileKind values this system
// understands, rejecting everything else.
func classify(d fs.DirEntry) (FileKind, error) {
	typ := d.Type()
	switch {
	case typ.IsDir():
		return Directory, nil
	case typ.IsRegular():
		return RegularFile, nil
	case typ&fs.ModeSymlink != 0:
		return 0, fmt.Errorf("symlink is not backed up")
	case typ&fs.ModeSocket != 0:
		return 0, fmt.Errorf("socket is not backed up")
	case typ&fs.ModeDevice != 0, typ&fs.ModeCharDevice != 0:
		return 0, fmt.Errorf("device file is not backed up")
	case typ&fs.ModeNamedPipe != 0:
		return 0, fmt.Errorf("named pipe is not backed up")
	default:
		return 0, fmt.Errorf("unrecognized file type %v", typ)
	}
}

// isXattrPath reports whether rel names the hidden extended-attribute
// directory of another path, mirroring the filtering ParseLines applies to
// zfs diff output so both entry sources treat the dataset identically.
func isXattrPath(rel string) bool {
	return strings.Contains(rel, xattrdirMarker)
}
