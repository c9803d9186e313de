package workdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesUniqueOwnedDirectory(t *testing.T) {
	base := t.TempDir()

	d1, err := New(base)
	require.NoError(t, err)
	d2, err := New(base)
	require.NoError(t, err)

	assert.NotEqual(t, d1.Path(), d2.Path(), "two sandboxes must never share a workdir path")
	assert.True(t, d1.Owned())
	assert.DirExists(t, d1.Path())

	info, err := os.Stat(d1.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	assert.True(t, strings.HasPrefix(filepath.Base(d1.Path()), prefix))
}

func TestReleaseRemovesOwnedDirAndIsIdempotent(t *testing.T) {
	base := t.TempDir()
	d, err := New(base)
	require.NoError(t, err)

	require.NoError(t, d.Release())
	assert.NoDirExists(t, d.Path())

	// Release a second time is a documented no-op, not an error.
	assert.NoError(t, d.Release())
}

func TestBorrowDoesNotOwnOrDelete(t *testing.T) {
	base := t.TempDir()
	existing := filepath.Join(base, "caller-managed")
	require.NoError(t, os.Mkdir(existing, 0o700))

	d := Borrow(existing)
	assert.False(t, d.Owned())
	assert.Equal(t, existing, d.Path())

	require.NoError(t, d.Release())
	assert.DirExists(t, existing, "Release on a borrowed Dir must not remove the directory")
}

func TestSocketPathIsInsideWorkdir(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	defer d.Release()

	assert.Equal(t, filepath.Join(d.Path(), "ipc.sock"), d.SocketPath())
}
