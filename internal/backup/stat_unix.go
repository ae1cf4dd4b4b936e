//go:build !windows

package backup

import (
	"os"
	"syscall"

	"github.com/saworbit/zfsbackup/internal/diffentry"
)

// statMetadata reads mtime/atime/ctime from the platform Stat_t, matching
// the same os.Sys() type assertion diffentry's permission check uses.
func statMetadata(info os.FileInfo) *diffentry.FileMetadata {
	meta := &diffentry.FileMetadata{Len: uint64(info.Size())}

	mtime := info.ModTime().UnixNano()
	meta.Mtime = &mtime

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return meta
	}
	atime := stat.Atim.Sec*1e9 + stat.Atim.Nsec
	ctime := stat.Ctim.Sec*1e9 + stat.Ctim.Nsec
	meta.Atime = &atime
	meta.Ctime = &ctime
	return meta
}
