package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by Lock when another run holds the build root.
var ErrLocked = errors.New("build root is locked by another run")

// RootLock is an exclusive advisory lock on a build root. Runs are
// sequential, so two runs sharing a root would chdir and write over each
// other's package directories.
type RootLock struct {
	f *os.File
}

// Lock takes the lock on root without waiting.
func Lock(root string) (*RootLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", root, err)
	}
	f, err := os.OpenFile(filepath.Join(root, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, root)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", root, err)
	}
	return &RootLock{f: f}, nil
}

// Unlock releases the lock.
func (l *RootLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}
