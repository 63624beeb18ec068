package scheduler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is a non-blocking, process-wide advisory lock backed by a
// sentinel file, implementing reconcile.Locker. It is the second line of
// defense the scheduler relies on in addition to its own coalescing.
type FileLock struct {
	flock *flock.Flock
}

// NewFileLock creates the lock's parent directory if needed and wraps
// path with a non-blocking flock.
func NewFileLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &FileLock{flock: flock.New(path)}, nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() (bool, error) {
	return l.flock.TryLock()
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	return l.flock.Unlock()
}
