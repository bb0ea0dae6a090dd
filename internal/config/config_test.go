package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "rebuild.yml")

	content := `tool_dirs:
  - ./tools
  - /usr/local/bin
vars:
  target_os: linux
default_target: all
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	c, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"./tools", "/usr/local/bin"}, c.ToolDirs)
	assert.Equal(t, "linux", c.Vars["target_os"])
	assert.Equal(t, "all", c.DefaultTarget)
}

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "rebuild.yml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, c)
	assert.True(t, c.Hash().IsZero())
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "rebuild.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("tool_dirs: [unterminated"), 0o644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestHashIsOrderIndependentOverVarsAndToolDirs(t *testing.T) {
	a := &Config{ToolDirs: []string{"x", "y"}, Vars: map[string]string{"a": "1", "b": "2"}}
	b := &Config{ToolDirs: []string{"y", "x"}, Vars: map[string]string{"b": "2", "a": "1"}}
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestHashSensitiveToEachField(t *testing.T) {
	base := &Config{ToolDirs: []string{"x"}, Vars: map[string]string{"a": "1"}, DefaultTarget: "all"}
	changedDir := &Config{ToolDirs: []string{"z"}, Vars: map[string]string{"a": "1"}, DefaultTarget: "all"}
	changedVar := &Config{ToolDirs: []string{"x"}, Vars: map[string]string{"a": "2"}, DefaultTarget: "all"}
	changedTarget := &Config{ToolDirs: []string{"x"}, Vars: map[string]string{"a": "1"}, DefaultTarget: "other"}

	assert.NotEqual(t, base.Hash(), changedDir.Hash())
	assert.NotEqual(t, base.Hash(), changedVar.Hash())
	assert.NotEqual(t, base.Hash(), changedTarget.Hash())
}
