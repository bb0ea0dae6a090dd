// Package trace implements the constructive-trace cache record: the
// per-dependency hash log a recipe produces on completion, and the binary
// on-disk format that stores it.
package trace

import (
	"errors"
	"fmt"
	"os"

	"github.com/rsepassi/rebuild/internal/hashtree"
	"github.com/rsepassi/rebuild/internal/store"
)

// Dependency is one recorded {path, hash} pair, in the order it was first
// observed by the recipe.
type Dependency struct {
	Path string
	Hash hashtree.Hash
}

// Trace is the constructive-trace cache record for one recipe invocation.
type Trace struct {
	RequestKey     hashtree.Hash
	Dependencies   []Dependency
	OutputTreeHash hashtree.Hash
	CPUMillis      uint64
	WallMillis     uint64
}

// Create returns an empty trace for requestKey with zero timings.
func Create(requestKey hashtree.Hash) *Trace {
	return &Trace{RequestKey: requestKey}
}

// AddDependency appends a dependency. Order is significant: dependencies
// must be added in the order they were first observed (spec.md §4.3).
func (t *Trace) AddDependency(path string, h hashtree.Hash) {
	t.Dependencies = append(t.Dependencies, Dependency{Path: path, Hash: h})
}

// ErrNotFound is returned by Load when no trace exists for the given key.
var ErrNotFound = errors.New("trace: not found")

// ErrCorrupt is returned by Load when the stored bytes fail to parse as a
// well-formed trace (bad magic, bad version, oversized path length, or a
// request-key mismatch with the lookup key).
var ErrCorrupt = errors.New("trace: corrupt")

// Validate iterates dependencies in recorded order. For each, it stats the
// path, hashes it (File for regular files, Tree for directories), and
// compares to the recorded hash. It stops at the first mismatch (early
// cutoff) and returns false; a missing or unreadable dependency also counts
// as a mismatch — spec.md §9's pinned choice to treat validation failures
// conservatively rather than skip them, unlike the warn-and-continue
// behavior hashtree.Tree uses during a live build. Returns true only if
// every dependency matches.
func (t *Trace) Validate() bool {
	for _, dep := range t.Dependencies {
		info, err := os.Stat(dep.Path)
		if err != nil {
			return false
		}
		var got hashtree.Hash
		if info.IsDir() {
			got, err = hashDirStrict(dep.Path)
		} else {
			got, err = hashtree.File(dep.Path)
		}
		if err != nil || got != dep.Hash {
			return false
		}
	}
	return true
}

// hashDirStrict hashes a directory the same way hashtree.Tree does, but
// treats any unreadable child as a hard failure rather than warning and
// continuing — the validate-side half of spec.md §9's split decision.
func hashDirStrict(path string) (hashtree.Hash, error) {
	prev := hashtree.OnUnreadable
	var failed error
	hashtree.OnUnreadable = func(p string, err error) {
		if failed == nil {
			failed = fmt.Errorf("trace: unreadable dependency child %s: %w", p, err)
		}
	}
	defer func() { hashtree.OnUnreadable = prev }()

	h, err := hashtree.Tree(path)
	if err != nil {
		return hashtree.Hash{}, err
	}
	if failed != nil {
		return hashtree.Hash{}, failed
	}
	return h, nil
}

// Save writes t to the Store under its request key, atomically.
func (t *Trace) Save(s *store.Store) error {
	path, err := s.TracePath(t.RequestKey)
	if err != nil {
		return fmt.Errorf("trace: save: %w", err)
	}
	return store.WriteAtomic(path, t.encode(), 0o644)
}

// Load reads the trace stored for requestKey from s. It returns ErrNotFound
// if no trace is stored, and a wrapped ErrCorrupt if the stored bytes are
// malformed or keyed to a different request key than requested.
func Load(requestKey hashtree.Hash, s *store.Store) (*Trace, error) {
	if !s.TraceExists(requestKey) {
		return nil, ErrNotFound
	}
	path, err := s.TracePath(requestKey)
	if err != nil {
		return nil, fmt.Errorf("trace: load: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("trace: load: %w", err)
	}
	t, err := decode(data)
	if err != nil {
		return nil, err
	}
	if t.RequestKey != requestKey {
		return nil, fmt.Errorf("%w: request key mismatch", ErrCorrupt)
	}
	return t, nil
}
