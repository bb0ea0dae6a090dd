// Package recipe models the runtime state of one target being built,
// including request-key composition for the constructive-trace cache.
package recipe

import (
	"sort"

	"github.com/rsepassi/rebuild/internal/hashtree"
)

// Recipe holds one target's runtime state for the duration of a single
// build invocation (spec.md §3). It is uniquely owned by the scheduler's
// recipe map.
type Recipe struct {
	TargetName string

	state State

	// requestKey is set at first cache probe and never mutated afterward.
	requestKey    hashtree.Hash
	requestKeySet bool

	// CodeHash is the hash of the script bytecode/source defining this
	// target's function.
	CodeHash hashtree.Hash

	// DeclaredDeps is the growing set of dependency paths discovered so
	// far. Monotone: entries are only ever added.
	DeclaredDeps []string

	// PendingDeps is the subset of DeclaredDeps not yet satisfied. Always
	// a subset of DeclaredDeps (invariant a).
	PendingDeps map[string]struct{}

	// LoadedTools is the set of tools this recipe has loaded so far,
	// contributing (module_hash, binary_hash) pairs to the request key.
	LoadedTools []ToolHashes

	// ConfigHash is the hash of the active configuration, or the zero
	// hash if none is set.
	ConfigHash hashtree.Hash

	OutputDir string
	TempDir   string

	// Fiber is an opaque handle; non-nil iff state is Running or
	// Suspended. The scheduler never inspects its contents directly —
	// only internal/script does.
	Fiber interface{}

	StartTimeMillis int64

	// PendingDepTargets holds the target names of the depend_on/
	// depend_on_all call this recipe is currently suspended on, in the
	// order given to the call. It gates waiter resumption (every name
	// here must be in the scheduler's completed map before R resumes)
	// and is distinct from DeclaredDeps: target names are not
	// stat-able filesystem paths, so they are never recorded there —
	// only each target's resolved output directory is, once known.
	PendingDepTargets []string
}

// ToolHashes is the (module_hash, binary_hash) pair a loaded tool
// contributes to the request key (spec.md §4.4 step 4).
type ToolHashes struct {
	ModuleHash hashtree.Hash
	BinaryHash hashtree.Hash
}

// New returns a fresh Recipe in state Pending for targetName.
func New(targetName string, codeHash hashtree.Hash) *Recipe {
	return &Recipe{
		TargetName:  targetName,
		state:       Pending,
		CodeHash:    codeHash,
		PendingDeps: make(map[string]struct{}),
	}
}

// AddDeclaredDep records path as a declared dependency if not already
// present, and marks it pending.
func (r *Recipe) AddDeclaredDep(path string) {
	for _, d := range r.DeclaredDeps {
		if d == path {
			return
		}
	}
	r.DeclaredDeps = append(r.DeclaredDeps, path)
	r.PendingDeps[path] = struct{}{}
}

// SatisfyDep removes path from PendingDeps. It is a no-op if path was not
// pending.
func (r *Recipe) SatisfyDep(path string) {
	delete(r.PendingDeps, path)
}

// AddLoadedTool records a tool's hashes as contributing to the request key.
func (r *Recipe) AddLoadedTool(h ToolHashes) {
	r.LoadedTools = append(r.LoadedTools, h)
}

// RequestKey computes (and memoizes) this recipe's request key, following
// spec.md §4.4's documented, stronger composition — adopted over the
// weaker implemented variant per spec.md §9's pinned resolution:
//
//  1. Start from CodeHash.
//  2. Mix in hash_bytes(target_name).
//  3. Mix in, sorted, hash_bytes(dep_path) for every declared static
//     dependency known so far.
//  4. Mix in, sorted, (module_hash, binary_hash) for every loaded tool.
//  5. Mix in ConfigHash.
//
// Combining is XOR; sorting makes the result independent of discovery
// order. The key is a lower bound on true inputs — dynamic dependencies
// discovered later are not reflected here, which is why trace validation
// (not the key alone) is the actual correctness mechanism (spec.md §4.4).
// Once computed the key is cached: spec.md's invariant is "set at first
// cache probe, never mutated afterward".
func (r *Recipe) RequestKey() hashtree.Hash {
	if r.requestKeySet {
		return r.requestKey
	}

	acc := r.CodeHash
	acc = acc.Combine(hashtree.String(r.TargetName))

	deps := make([]string, len(r.DeclaredDeps))
	copy(deps, r.DeclaredDeps)
	sort.Strings(deps)
	for _, d := range deps {
		acc = acc.Combine(hashtree.String(d))
	}

	tools := make([]ToolHashes, len(r.LoadedTools))
	copy(tools, r.LoadedTools)
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].ModuleHash != tools[j].ModuleHash {
			return tools[i].ModuleHash.HexEncode() < tools[j].ModuleHash.HexEncode()
		}
		return tools[i].BinaryHash.HexEncode() < tools[j].BinaryHash.HexEncode()
	})
	for _, th := range tools {
		acc = acc.Combine(th.ModuleHash).Combine(th.BinaryHash)
	}

	acc = acc.Combine(r.ConfigHash)

	r.requestKey = acc
	r.requestKeySet = true
	return r.requestKey
}
