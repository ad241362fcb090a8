package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBoundaryResolveInsideRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "main.go"), "package main\n")

	b, err := NewBoundary(root)
	require.NoError(t, err)

	got, err := b.Resolve(filepath.Join(root, "pkg", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Root(), "pkg", "main.go"), got)

	// Relative paths join against the root.
	got, err = b.Resolve(filepath.Join("pkg", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Root(), "pkg", "main.go"), got)
}

func TestBoundaryResolveRootItself(t *testing.T) {
	root := t.TempDir()
	b, err := NewBoundary(root)
	require.NoError(t, err)

	got, err := b.Resolve(root)
	require.NoError(t, err)
	assert.Equal(t, b.Root(), got)
}

func TestBoundaryRejectsDotDotEscape(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "workspace")
	writeFile(t, filepath.Join(parent, "secret.txt"), "keep out")
	require.NoError(t, os.MkdirAll(root, 0o755))

	b, err := NewBoundary(root)
	require.NoError(t, err)

	_, err = b.Resolve(filepath.Join(root, "..", "secret.txt"))
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestBoundaryRejectsSymlinkEscape(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "workspace")
	require.NoError(t, os.MkdirAll(root, 0o755))
	writeFile(t, filepath.Join(parent, "outside.go"), "package outside\n")
	require.NoError(t, os.Symlink(filepath.Join(parent, "outside.go"), filepath.Join(root, "inside.go")))

	b, err := NewBoundary(root)
	require.NoError(t, err)

	_, err = b.Resolve(filepath.Join(root, "inside.go"))
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestBoundaryAllowsInternalSymlink(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real.go"), "package real\n")
	require.NoError(t, os.Symlink(filepath.Join(root, "real.go"), filepath.Join(root, "alias.go")))

	b, err := NewBoundary(root)
	require.NoError(t, err)

	got, err := b.Resolve(filepath.Join(root, "alias.go"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Root(), "real.go"), got)
}

func TestBoundaryCanonicalizesRootSymlinks(t *testing.T) {
	// macOS mounts TempDir under /var -> /private/var; the boundary must
	// compare canonical forms, not the spelling the caller used.
	parent := t.TempDir()
	real := filepath.Join(parent, "real")
	require.NoError(t, os.MkdirAll(real, 0o755))
	link := filepath.Join(parent, "link")
	require.NoError(t, os.Symlink(real, link))

	b, err := NewBoundary(link)
	require.NoError(t, err)

	writeFile(t, filepath.Join(real, "a.go"), "package a\n")
	got, err := b.Resolve(filepath.Join(link, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Root(), "a.go"), got)
}

func TestNewBoundaryMissingRoot(t *testing.T) {
	_, err := NewBoundary(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestReadFileRegular(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	writeFile(t, path, "package main\n")

	src, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(src))
}

func TestReadFileRejectsSymlink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "target.go")
	writeFile(t, target, "package target\n")
	link := filepath.Join(root, "link.go")
	require.NoError(t, os.Symlink(target, link))

	_, err := ReadFile(link)
	assert.ErrorIs(t, err, ErrSymlink)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.go"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
