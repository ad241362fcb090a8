package security

import "io"

// ReadFile reads the file at path without following symlinks: a symlink
// returns ErrSymlink instead of its target's contents. This closes the
// window between a directory walk classifying a path and the read
// touching it.
func ReadFile(path string) ([]byte, error) {
	f, err := openNoFollow(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}
