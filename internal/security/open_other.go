//go:build !unix

package security

import (
	"fmt"
	"os"
)

// openNoFollow approximates O_NOFOLLOW where the flag doesn't exist: an
// Lstat check rejects symlinks before the open
func openNoFollow(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrSymlink)
	}
	return os.Open(path)
}
