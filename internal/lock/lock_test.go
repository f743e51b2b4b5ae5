package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	h, err := Acquire(dir, Options{})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, fileName))
	h.Release()
	_, err = os.Stat(filepath.Join(dir, fileName))
	require.True(t, os.IsNotExist(err))
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	h, err := Acquire(dir, Options{})
	require.NoError(t, err)
	defer h.Release()

	_, err = Acquire(dir, Options{Retries: 1, RetryInterval: 5 * time.Millisecond})
	require.Error(t, err)
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(lockPath, []byte("99999999"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	h, err := Acquire(dir, Options{StaleSec: 3600})
	require.NoError(t, err)
	h.Release()
}

func TestReleaseDoesNotRemoveRecreatedLock(t *testing.T) {
	dir := t.TempDir()
	h, err := Acquire(dir, Options{})
	require.NoError(t, err)

	lockPath := filepath.Join(dir, fileName)
	require.NoError(t, os.Remove(lockPath))
	require.NoError(t, os.WriteFile(lockPath, []byte("other"), 0o644))

	h.Release()
	require.FileExists(t, lockPath)
}
