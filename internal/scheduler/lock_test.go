package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileLockAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reconcile.lock")
	l, err := NewFileLock(path)
	require.NoError(t, err)

	ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Unlock())
}

func TestFileLockRefusesSecondHolderWithoutBlocking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconcile.lock")

	first, err := NewFileLock(path)
	require.NoError(t, err)
	ok, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer first.Unlock()

	second, err := NewFileLock(path)
	require.NoError(t, err)
	ok, err = second.TryLock()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileLockAvailableAgainAfterUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconcile.lock")

	first, err := NewFileLock(path)
	require.NoError(t, err)
	ok, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, first.Unlock())

	second, err := NewFileLock(path)
	require.NoError(t, err)
	ok, err = second.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, second.Unlock())
}
