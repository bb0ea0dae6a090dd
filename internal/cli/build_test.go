package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsepassi/rebuild/internal/buildererr"
)

func TestExitCodeNilIsOK(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
}

func TestExitCodeUsageErrorMapsToExitUsageError(t *testing.T) {
	assert.Equal(t, ExitUsageError, ExitCode(&usageError{msg: "no BUILD.lua found"}))
}

func TestExitCodeWrappedTaxonomyErrorMapsToExitBuildFailed(t *testing.T) {
	err := buildererr.BuildFailure("widget")
	assert.Equal(t, ExitBuildFailed, ExitCode(err))
}

func TestExitCodeTargetNotFoundMapsToExitBuildFailed(t *testing.T) {
	err := buildererr.New(buildererr.ErrTargetNotFound, "target %q not registered", "missing")
	assert.Equal(t, ExitBuildFailed, ExitCode(err))
}

func TestRunBuildMissingBuildFileReturnsUsageError(t *testing.T) {
	chdir(t, t.TempDir())

	err := runBuild("anything")
	require.Error(t, err)
	var usageErr *usageError
	assert.True(t, errors.As(err, &usageErr))
}

func TestRunBuildInvalidConfigReturnsUsageError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, buildFileName), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rebuild.yml"), []byte("vars: [not a map"), 0o644))
	chdir(t, dir)

	err := runBuild("anything")
	require.Error(t, err)
	var usageErr *usageError
	assert.True(t, errors.As(err, &usageErr))
}

func TestRunBuildNoTargetAndNoDefaultReturnsUsageError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, buildFileName), []byte(""), 0o644))
	chdir(t, dir)

	err := runBuild("")
	require.Error(t, err)
	var usageErr *usageError
	assert.True(t, errors.As(err, &usageErr))
	assert.Contains(t, usageErr.msg, "no target specified")
}
