package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/saworbit/zfsbackup/internal/platform"
)

// createExclusive mirrors the original tool's OpenOptions{create_new: !force}
// guard: refuse to clobber an existing config or data file unless force is
// set, with a hint pointing at the flag that overrides it.
func createExclusive(path string, force bool) error {
	path = platform.LongPathname(path)
	flags := os.O_WRONLY | os.O_CREATE
	if force {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists; pass --force to overwrite", path)
		}
		return fmt.Errorf("opening %s: %w", path, err)
	}
	return f.Close()
}
