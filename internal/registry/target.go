// Package registry implements the Target and Tool registries: the
// mapping from target names to their script-side implementation, and the
// mapping from tool names to their resolved binary/module on disk.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rsepassi/rebuild/internal/hashtree"
)

// TargetEntry is the script-side implementation of one target (spec.md
// §4.5): a function name to call, within a given script handle, plus the
// hash of that function's own body (spec.md §4.4 step 1), computed once
// at registration time.
type TargetEntry struct {
	FunctionName string
	ScriptHandle interface{}
	CodeHash     hashtree.Hash
}

// TargetRegistry maps target name to (function_name, script_handle).
// Population is driven by loading a build-definition script, which calls
// the host-exposed register_target(name, function_name) primitive.
// Re-registration replaces the prior entry — callers are expected to log
// a warning when OnReplace below is invoked, matching spec.md's "with a
// warning" wording without mandating a specific logger dependency here.
type TargetRegistry struct {
	mu      sync.Mutex
	entries map[string]TargetEntry
	// OnReplace, if set, is called before an existing entry is
	// overwritten, so callers can warn.
	OnReplace func(name string, old, new TargetEntry)
}

// NewTargetRegistry returns an empty TargetRegistry.
func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{entries: make(map[string]TargetEntry)}
}

// Register adds or replaces the entry for name.
func (tr *TargetRegistry) Register(name string, entry TargetEntry) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if old, exists := tr.entries[name]; exists && tr.OnReplace != nil {
		tr.OnReplace(name, old, entry)
	}
	tr.entries[name] = entry
}

// Lookup returns the entry for name, O(1).
func (tr *TargetRegistry) Lookup(name string) (TargetEntry, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	e, ok := tr.entries[name]
	return e, ok
}

// Names returns all registered target names, sorted, O(n).
func (tr *TargetRegistry) Names() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	names := make([]string, 0, len(tr.entries))
	for n := range tr.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ErrTargetNotFound is returned when a requested target has no registered
// entry.
type ErrTargetNotFound struct{ Name string }

func (e *ErrTargetNotFound) Error() string {
	return fmt.Sprintf("registry: target not found: %q", e.Name)
}
