package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rsepassi/rebuild/internal/hashtree"
)

// Tool is a resolved tool entry (spec.md §3): a binary on disk plus an
// optional script-side API module sitting beside it.
type Tool struct {
	Name        string
	BinaryPath  string
	BinaryHash  hashtree.Hash
	ModulePath  string
	ModuleHash  hashtree.Hash // zero if no sibling module exists
}

// ToolRegistry resolves tool names to binaries (and optional script
// modules), memoizing by name under a lock so concurrent load_tool(n)
// calls for the same n return the same entry (spec.md §4.5, §5).
type ToolRegistry struct {
	// SearchDirs overrides $PATH when non-empty. Checked in order.
	SearchDirs []string
	// ScriptExt is the extension of a tool's sibling script module, e.g.
	// "lua" for "<tool-root>/<name>.lua" (spec.md §4.5's "<script-ext>").
	ScriptExt string

	mu      sync.Mutex
	cache   map[string]*Tool
	cacheErr map[string]error
}

// NewToolRegistry returns a ToolRegistry that searches $PATH by default.
func NewToolRegistry(scriptExt string) *ToolRegistry {
	return &ToolRegistry{
		ScriptExt: scriptExt,
		cache:     make(map[string]*Tool),
		cacheErr:  make(map[string]error),
	}
}

// ErrToolNotFound is returned when no executable named name is found in
// the search path.
type ErrToolNotFound struct{ Name string }

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("registry: tool not found: %q", e.Name)
}

// Load resolves and returns the Tool named name, memoizing the result
// (success or failure) so repeated calls do not re-stat or re-hash.
func (tr *ToolRegistry) Load(name string) (*Tool, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if t, ok := tr.cache[name]; ok {
		return t, nil
	}
	if err, ok := tr.cacheErr[name]; ok {
		return nil, err
	}

	t, err := tr.resolve(name)
	if err != nil {
		tr.cacheErr[name] = err
		return nil, err
	}
	tr.cache[name] = t
	return t, nil
}

func (tr *ToolRegistry) resolve(name string) (*Tool, error) {
	binPath, err := tr.findExecutable(name)
	if err != nil {
		return nil, err
	}

	binHash, err := hashtree.File(binPath)
	if err != nil {
		return nil, fmt.Errorf("registry: hash tool binary %s: %w", binPath, err)
	}

	t := &Tool{
		Name:       name,
		BinaryPath: binPath,
		BinaryHash: binHash,
	}

	if tr.ScriptExt != "" {
		modPath := filepath.Join(filepath.Dir(binPath), name+"."+tr.ScriptExt)
		if modHash, err := hashtree.File(modPath); err == nil {
			t.ModulePath = modPath
			t.ModuleHash = modHash
		}
		// Absence of a sibling module is not an error; ModuleHash stays
		// zero (spec.md §4.5).
	}

	return t, nil
}

func (tr *ToolRegistry) searchDirs() []string {
	if len(tr.SearchDirs) > 0 {
		return tr.SearchDirs
	}
	path := os.Getenv("PATH")
	if path == "" {
		return nil
	}
	return strings.Split(path, string(os.PathListSeparator))
}

func (tr *ToolRegistry) findExecutable(name string) (string, error) {
	for _, dir := range tr.searchDirs() {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", &ErrToolNotFound{Name: name}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
