// Package workdir manages the private scratch directory a sandbox uses for
// its IPC socket, encoded-command files, and other per-invocation state.
package workdir

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const prefix = "leash-"

// Dir is a sandbox's private working directory under the system temp root.
// It is created with 0700 permissions and removed on Release unless it was
// Borrow()ed, in which case the caller owns its lifetime.
type Dir struct {
	path   string
	owned  bool
	mu     sync.Mutex
	closed bool
}

// New creates a fresh, uniquely-named, owned working directory under base
// (the system temp dir if base is empty).
func New(base string) (*Dir, error) {
	if base == "" {
		base = os.TempDir()
	}

	var lastErr error
	for attempt := 0; attempt < 8; attempt++ {
		name, err := randomName()
		if err != nil {
			return nil, fmt.Errorf("workdir: generating name: %w", err)
		}
		path := filepath.Join(base, name)
		if err := os.Mkdir(path, 0o700); err != nil {
			if os.IsExist(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("workdir: creating %s: %w", path, err)
		}
		return &Dir{path: path, owned: true}, nil
	}
	return nil, fmt.Errorf("workdir: could not allocate unique directory under %s: %w", base, lastErr)
}

// Borrow wraps an existing, caller-managed directory. Release becomes a
// no-op for the filesystem entry itself; only in-memory state is cleared.
func Borrow(path string) *Dir {
	return &Dir{path: path, owned: false}
}

func randomName() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(buf), nil
}

// Path returns the directory's absolute path.
func (d *Dir) Path() string {
	return d.path
}

// Owned reports whether this Dir was created by New (vs Borrow).
func (d *Dir) Owned() bool {
	return d.owned
}

// SocketPath returns the conventional path for the sandbox's IPC socket
// inside this workdir.
func (d *Dir) SocketPath() string {
	return filepath.Join(d.path, "ipc.sock")
}

// Release removes the directory tree if it is owned. Calling Release more
// than once is safe; only the first call has effect.
func (d *Dir) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if !d.owned {
		return nil
	}
	return os.RemoveAll(d.path)
}
