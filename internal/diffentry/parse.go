package diffentry

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// xattrdirMarker is the substring zfs uses in diff output to denote the
// hidden extended-attribute directory of a file; such lines are noise for
// backup purposes and are skipped silently, matching the upstream behavior.
const xattrdirMarker = "<xattrdir>"

// ParseLines reads zfs-diff-style output (one record per line, tab
// separated: change-marker, kind-marker, path, optional rename-target) and
// returns the ordered list of parsed entries. Lines whose path contains the
// extended-attribute directory marker are skipped. An unrecognized marker on
// any other line yields ErrBadDiffFormat.
func ParseLines(r io.Reader) ([]Raw, error) {
	scanner := bufio.NewScanner(r)
	// zfs diff lines can carry arbitrarily long paths; grow the buffer past
	// bufio's 64KiB default rather than truncate a real path silently.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var entries []Raw
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, skip, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("diffentry: reading diff output: %w", err)
	}
	return entries, nil
}

func parseLine(line string) (entry Raw, skip bool, err error) {
	cols := strings.Split(line, "\t")
	if len(cols) < 3 {
		return Raw{}, false, fmt.Errorf("%w: %q", backuperr.ErrBadDiffFormat, line)
	}
	changeMarker, kindMarker, path := cols[0], cols[1], cols[2]

	if strings.Contains(path, xattrdirMarker) {
		return Raw{}, true, nil
	}

	kind, err := parseKindMarker(kindMarker)
	if err != nil {
		return Raw{}, false, fmt.Errorf("%w: %q", err, line)
	}

	change, err := parseChangeMarker(changeMarker, cols)
	if err != nil {
		return Raw{}, false, fmt.Errorf("%w: %q", err, line)
	}

	return Raw{Path: path, Kind: kind, Change: change}, false, nil
}

func parseKindMarker(marker string) (FileKind, error) {
	switch marker {
	case "/":
		return Directory, nil
	case "F":
		return RegularFile, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized kind marker %q", backuperr.ErrBadDiffFormat, marker)
	}
}

func parseChangeMarker(marker string, cols []string) (Change[Unit], error) {
	switch marker {
	case "-":
		return Change[Unit]{Kind: Removed}, nil
	case "+":
		return Change[Unit]{Kind: Created}, nil
	case "M":
		return Change[Unit]{Kind: Modified}, nil
	case "R":
		if len(cols) < 4 || cols[3] == "" {
			return Change[Unit]{}, fmt.Errorf("%w: rename missing target path", backuperr.ErrBadDiffFormat)
		}
		return Change[Unit]{Kind: Renamed, RenameTo: cols[3]}, nil
	default:
		return Change[Unit]{}, fmt.Errorf("%w: unrecognized change marker %q", backuperr.ErrBadDiffFormat, marker)
	}
}

// RelativeToMount rewrites every entry's Path (and, for renames, RenameTo)
// to be relative to mountPoint, failing ErrPathEscapesMount if a path does
// not fall under it.
func RelativeToMount(entries []Raw, mountPoint string) ([]Raw, error) {
	prefix := strings.TrimRight(mountPoint, "/") + "/"
	out := make([]Raw, len(entries))
	for i, e := range entries {
		rel, err := trimMountPrefix(e.Path, prefix)
		if err != nil {
			return nil, err
		}
		e.Path = rel
		if e.Change.Kind == Renamed {
			relTo, err := trimMountPrefix(e.Change.RenameTo, prefix)
			if err != nil {
				return nil, err
			}
			e.Change.RenameTo = relTo
		}
		out[i] = e
	}
	return out, nil
}

func trimMountPrefix(path, prefix string) (string, error) {
	if path == strings.TrimSuffix(prefix, "/") {
		return "", nil
	}
	if !strings.HasPrefix(path, prefix) {
		return "", fmt.Errorf("%w: %q does not start with %q", backuperr.ErrPathEscapesMount, path, prefix)
	}
	return strings.TrimPrefix(path, prefix), nil
}
