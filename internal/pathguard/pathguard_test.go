package pathguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSymlink(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "regular.txt")
	require.NoError(t, os.WriteFile(regular, []byte("x"), 0o644))
	require.False(t, IsSymlink(regular))

	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(regular, link))
	require.True(t, IsSymlink(link))

	require.False(t, IsSymlink(filepath.Join(dir, "missing.txt")))
}

func TestHasSymlinkAncestor(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "realdir")
	require.NoError(t, os.Mkdir(real, 0o755))
	linked := filepath.Join(dir, "linkdir")
	require.NoError(t, os.Symlink(real, linked))

	require.True(t, HasSymlinkAncestor(filepath.Join(linked, "file.txt")))
	require.False(t, HasSymlinkAncestor(filepath.Join(real, "file.txt")))
}

func TestEnsureDirectoryRefusesSymlinkAncestor(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "realdir")
	require.NoError(t, os.Mkdir(real, 0o755))
	linked := filepath.Join(dir, "linkdir")
	require.NoError(t, os.Symlink(real, linked))

	err := EnsureDirectory(filepath.Join(linked, "sub"), true)
	require.Error(t, err)
}

func TestEnsureDirectoryCreatesParents(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, EnsureDirectory(target, true))
	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestOpenAppendGuardedRefusesSymlinkTarget(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.log")
	require.NoError(t, os.WriteFile(real, []byte("a"), 0o644))
	link := filepath.Join(dir, "link.log")
	require.NoError(t, os.Symlink(real, link))

	_, err := OpenAppendGuarded(link)
	require.Error(t, err)
}

func TestOpenAppendGuardedWritesRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	f, err := OpenAppendGuarded(path)
	require.NoError(t, err)
	_, err = f.WriteString("hello\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))
}

func TestOpenWriteTruncGuardedRefusesNonRegular(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "adir")
	require.NoError(t, os.Mkdir(sub, 0o755))

	_, err := OpenWriteTruncGuarded(sub, 0o600)
	require.Error(t, err)
}

func TestOpenReadGuardedMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenReadGuarded(filepath.Join(dir, "nope.txt"))
	require.Error(t, err)
}
