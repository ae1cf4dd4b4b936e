// Package diffopt removes redundant diff entries before they reach the
// upload stream: a restore can recreate parent directories implicitly, so
// recording them explicitly (or recording deletions beneath an already
// deleted directory) only wastes upload bandwidth.
package diffopt

import (
	"sort"
	"strings"

	"github.com/saworbit/zfsbackup/internal/diffentry"
)

// Optimize removes:
//   - modified directories (the modification inside the directory is
//     already captured by its own entries);
//   - created directories that are non-empty (an entry whose path starts
//     with the directory's path and a "/" immediately follows it once
//     sorted — restoring a file recreates its parent directories);
//   - removed regular files immediately preceded, after sorting, by a
//     removed directory whose path and a "/" prefix their path (removing
//     the directory removes everything under it).
//
// entries is sorted by path in place and then trimmed; the returned slice
// aliases entries' backing array.
func Optimize[M any](entries []diffentry.DiffEntry[M]) []diffentry.DiffEntry[M] {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	i := 0
	for i < len(entries) {
		entry := entries[i]
		switch entry.Kind {
		case diffentry.Directory:
			switch entry.Change.Kind {
			case diffentry.Modified:
				entries = removeAt(entries, i)
				continue
			case diffentry.Created:
				if i+1 < len(entries) && strings.HasPrefix(entries[i+1].Path, entry.Path+"/") {
					entries = removeAt(entries, i)
					continue
				}
			}
		case diffentry.RegularFile:
			if entry.Change.Kind == diffentry.Removed && i > 0 {
				parent := entries[i-1]
				if parent.Kind == diffentry.Directory &&
					parent.Change.Kind == diffentry.Removed &&
					strings.HasPrefix(entry.Path, parent.Path+"/") {
					entries = removeAt(entries, i)
					continue
				}
			}
		}
		i++
	}

	return entries
}

func removeAt[M any](entries []diffentry.DiffEntry[M], i int) []diffentry.DiffEntry[M] {
	return append(entries[:i], entries[i+1:]...)
}
