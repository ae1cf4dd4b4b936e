//go:build windows

package backup

import (
	"os"

	"github.com/saworbit/zfsbackup/internal/diffentry"
)

// statMetadata reads only mtime on Windows: Go's os.FileInfo.Sys() on
// Windows exposes syscall.Win32FileAttributeData, which does carry access
// and creation times, but ZFS itself is not a supported filesystem there —
// this fallback exists only so the package builds cross-platform.
func statMetadata(info os.FileInfo) *diffentry.FileMetadata {
	mtime := info.ModTime().UnixNano()
	return &diffentry.FileMetadata{Len: uint64(info.Size()), Mtime: &mtime}
}
