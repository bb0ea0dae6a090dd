package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestFindBuildFileInCurrentDir(t *testing.T) {
	dir := t.TempDir()
	buildFile := filepath.Join(dir, buildFileName)
	require.NoError(t, os.WriteFile(buildFile, []byte(""), 0o644))
	chdir(t, dir)

	got, err := findBuildFile()
	require.NoError(t, err)
	assert.Equal(t, buildFile, got)
}

func TestFindBuildFileWalksUpward(t *testing.T) {
	root := t.TempDir()
	buildFile := filepath.Join(root, buildFileName)
	require.NoError(t, os.WriteFile(buildFile, []byte(""), 0o644))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	got, err := findBuildFile()
	require.NoError(t, err)
	assert.Equal(t, buildFile, got)
}

func TestFindBuildFileMissingReturnsError(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	_, err := findBuildFile()
	assert.Error(t, err)
}
