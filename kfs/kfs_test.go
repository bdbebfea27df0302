package kfs

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronostore/kernel/klog"
)

func TestOpenFileCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c.dat")

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenFileDoesNotTruncateExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.dat")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReplaceIsAtomic(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "staged")
	final := filepath.Join(dir, "final")

	require.NoError(t, os.WriteFile(staged, []byte("new content"), 0o644))
	require.NoError(t, os.WriteFile(final, []byte("old content"), 0o644))

	require.NoError(t, Replace(staged, final))

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))

	_, err = os.Stat(staged)
	assert.True(t, os.IsNotExist(err))
}

func TestRecursiveDelete(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "x", "y")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "f"), []byte("1"), 0o644))

	require.NoError(t, RecursiveDelete(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

// Same-process re-acquire is one of the two cases spec.md §4.7/§7 names as
// swallowed rather than surfaced: the second call warns and hands back the
// handle already held by this process instead of erroring.
func TestLockReacquireFromSameProcessReturnsExistingHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "LOCK")

	first, err := AcquireLock(path, klog.NewNop())
	require.NoError(t, err)
	defer first.Release()

	second, err := AcquireLock(path, klog.NewNop())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

// A genuine cross-process conflict (simulated here by taking the flock
// directly, bypassing this package's same-process registry) must still
// surface a LockError.
func TestLockExclusionAcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "LOCK")

	foreign, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer foreign.Close()
	require.NoError(t, syscall.Flock(int(foreign.Fd()), syscall.LOCK_EX|syscall.LOCK_NB))

	_, err = AcquireLock(path, klog.NewNop())
	assert.Error(t, err)
}

func TestLockReleaseThenReacquire(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "LOCK")

	first, err := AcquireLock(path, klog.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := AcquireLock(path, klog.NewNop())
	require.NoError(t, err)
	require.NoError(t, second.Release())
}
