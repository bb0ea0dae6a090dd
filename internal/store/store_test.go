package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsepassi/rebuild/internal/hashtree"
)

func TestInitAtCreatesLayout(t *testing.T) {
	root := t.TempDir()
	s, err := InitAt(root)
	require.NoError(t, err)

	for _, sub := range []string{"traces", "objects", "tmp"} {
		info, err := os.Stat(filepath.Join(root, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, root, s.Root())
}

func TestInitAtIsIdempotent(t *testing.T) {
	root := t.TempDir()
	_, err := InitAt(root)
	require.NoError(t, err)
	_, err = InitAt(root)
	require.NoError(t, err)
}

func TestTracePathIsSharded(t *testing.T) {
	root := t.TempDir()
	s, err := InitAt(root)
	require.NoError(t, err)

	key := hashtree.String("some-request-key")
	path, err := s.TracePath(key)
	require.NoError(t, err)

	hex := key.HexEncode()
	want := filepath.Join(root, "traces", hex[:2], hex[2:])
	assert.Equal(t, want, path)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestObjectPathIsSharded(t *testing.T) {
	root := t.TempDir()
	s, err := InitAt(root)
	require.NoError(t, err)

	key := hashtree.String("some-object")
	path, err := s.ObjectPath(key)
	require.NoError(t, err)

	hex := key.HexEncode()
	want := filepath.Join(root, "objects", hex[:2], hex[2:])
	assert.Equal(t, want, path)
}

func TestExistsReflectsWrites(t *testing.T) {
	root := t.TempDir()
	s, err := InitAt(root)
	require.NoError(t, err)

	key := hashtree.String("k")
	assert.False(t, s.TraceExists(key))

	path, err := s.TracePath(key)
	require.NoError(t, err)
	require.NoError(t, WriteAtomic(path, []byte("data"), 0o644))

	assert.True(t, s.TraceExists(key))
}

func TestShardCreationToleratesRaces(t *testing.T) {
	root := t.TempDir()
	s, err := InitAt(root)
	require.NoError(t, err)

	key := hashtree.String("same-shard")
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := s.TracePath(key)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}

func TestTmpDirNaming(t *testing.T) {
	root := t.TempDir()
	s, err := InitAt(root)
	require.NoError(t, err)

	dir, err := s.TmpDir("mytarget", 1700000000)
	require.NoError(t, err)

	base := filepath.Base(dir)
	assert.Contains(t, base, "mytarget_1700000000_")
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteAtomicLeavesNoTempOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, WriteAtomic(path, []byte("hello"), 0o644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Name())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestResolveRootPrefersAbsoluteXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-example")
	t.Setenv("HOME", "/tmp/home-example")

	root, err := resolveRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/xdg-example", AppName), root)
}

func TestResolveRootFallsBackToHomeWhenXDGRelative(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "relative/path")
	t.Setenv("HOME", "/tmp/home-example")

	root, err := resolveRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/home-example", ".local", "share", AppName), root)
}
