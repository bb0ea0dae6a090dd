package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

// buildFileName is the conventional build-definition file name for the
// adopted Lua runtime (spec.md §6, SPEC_FULL.md §8.1).
const buildFileName = "BUILD.lua"

// findBuildFile walks upward from the current working directory looking
// for BUILD.lua, stopping at the filesystem root — original_source's
// find_build_file() walk, reproduced exactly (SPEC_FULL.md §10).
func findBuildFile() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cli: getwd: %w", err)
	}

	dir := cwd
	for {
		candidate := filepath.Join(dir, buildFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached the filesystem root
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find %s in %s or any parent directory", buildFileName, cwd)
}
