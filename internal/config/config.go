// Package config loads the optional per-project rebuild.yml: tool search
// directories, free-form variables, and a default target, which together
// contribute the config hash component of a recipe's request key
// (spec.md §4.4 step 5).
package config

import (
	"fmt"
	"os"

	"github.com/rsepassi/rebuild/internal/hashtree"
	"gopkg.in/yaml.v3"
)

// Config is the top-level rebuild.yml shape.
type Config struct {
	ToolDirs      []string          `yaml:"tool_dirs,omitempty"`
	Vars          map[string]string `yaml:"vars,omitempty"`
	DefaultTarget string            `yaml:"default_target,omitempty"`
}

// Load reads and parses path. A missing file is not an error: it returns
// the zero-value Config, whose Hash is the zero hash, so unconfigured
// projects don't pay a spurious cache-invalidation cost.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &c, nil
}

// Hash folds the configuration's fields into a single hash, order-
// independent over Vars and ToolDirs, for use as a recipe's ConfigHash
// (spec.md §4.4 step 5). The zero-value Config hashes to the zero hash.
func (c *Config) Hash() hashtree.Hash {
	if c == nil {
		return hashtree.Zero
	}
	acc := hashtree.Zero
	for _, dir := range c.ToolDirs {
		acc = acc.Combine(hashtree.String("tool_dir:" + dir))
	}
	for k, v := range c.Vars {
		acc = acc.Combine(hashtree.String("var:" + k + "=" + v))
	}
	if c.DefaultTarget != "" {
		acc = acc.Combine(hashtree.String("default_target:" + c.DefaultTarget))
	}
	return acc
}
