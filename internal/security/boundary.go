// Package security confines file access to the indexed workspace: every
// path the engine touches must resolve inside the workspace root, and
// reads never follow symlinks.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideRoot is returned when a path resolves outside the
	// workspace root, symlinks included
	ErrOutsideRoot = errors.New("path resolves outside the workspace root")

	// ErrSymlink is returned when a read target turns out to be a symlink
	ErrSymlink = errors.New("path is a symlink")
)

// Boundary enforces that file operations stay under one canonical
// workspace root
type Boundary struct {
	root string
}

// NewBoundary canonicalizes root (resolving any symlinks in the root path
// itself) and returns a boundary rooted there. The root must exist.
func NewBoundary(root string) (*Boundary, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize workspace root: %w", err)
	}
	return &Boundary{root: canonical}, nil
}

// Root returns the canonical workspace root
func (b *Boundary) Root() string {
	return b.root
}

// Resolve canonicalizes path, joining relative paths against the root, and
// rejects it with ErrOutsideRoot unless the result sits inside the
// workspace. A "../.." component or a symlink pointing elsewhere both
// count as escapes.
func (b *Boundary) Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.root, path)
	}
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s: %w", path, err)
	}
	if canonical != b.root && !strings.HasPrefix(canonical, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	return canonical, nil
}
