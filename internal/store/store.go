// Package store implements the content-addressed, sharded on-disk layout
// that backs the recipe cache (traces) and recorded outputs (objects).
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rsepassi/rebuild/internal/hashtree"
)

// AppName names the fixed storage root subdirectory, chosen at build time
// per spec.md §6 ("<app> is a fixed name chosen at build time").
const AppName = "rebuild"

// Store owns the on-disk root directory holding traces/, objects/, and tmp/.
type Store struct {
	root string
}

// Init selects the storage root and creates traces/, objects/, tmp/ if
// missing. Root selection: $XDG_DATA_HOME/<app> when XDG_DATA_HOME is set
// to an absolute path, else $HOME/.local/share/<app> (spec.md §4.2, §6).
func Init() (*Store, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	return InitAt(root)
}

// InitAt initializes a Store rooted at an explicit directory, bypassing the
// environment-based root selection. Used by tests and by any caller that
// wants an isolated store (e.g. t.TempDir()).
func InitAt(root string) (*Store, error) {
	s := &Store{root: root}
	for _, sub := range []string{"traces", "objects", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("store: init %s: %w", sub, err)
		}
	}
	return s, nil
}

func resolveRoot() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, AppName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("store: cannot resolve root: HOME is unset and XDG_DATA_HOME is unset or relative")
	}
	return filepath.Join(home, ".local", "share", AppName), nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// shardedPath computes <root>/<kind>/<hex[0:2]>/<hex[2:]>, ensuring the
// shard directory exists. Shard-directory creation tolerates EEXIST races
// from concurrent callers (spec.md §4.2 guarantees, §5 shared-resource
// rules).
func (s *Store) shardedPath(kind string, h hashtree.Hash) (string, error) {
	hex := h.HexEncode()
	shardDir := filepath.Join(s.root, kind, hex[:2])
	if err := os.MkdirAll(shardDir, 0o755); err != nil && !os.IsExist(err) {
		return "", fmt.Errorf("store: create shard dir %s: %w", shardDir, err)
	}
	return filepath.Join(shardDir, hex[2:]), nil
}

// TracePath returns the sharded path for the trace keyed by the recipe's
// request key, ensuring the shard directory exists.
func (s *Store) TracePath(key hashtree.Hash) (string, error) {
	return s.shardedPath("traces", key)
}

// ObjectPath returns the sharded path for the object keyed by its content
// hash, ensuring the shard directory exists.
func (s *Store) ObjectPath(key hashtree.Hash) (string, error) {
	return s.shardedPath("objects", key)
}

// TraceExists reports whether a trace is already stored for key.
func (s *Store) TraceExists(key hashtree.Hash) bool {
	return pathExists(s.noCreateShardedPath("traces", key))
}

// ObjectExists reports whether an object is already stored for key.
func (s *Store) ObjectExists(key hashtree.Hash) bool {
	return pathExists(s.noCreateShardedPath("objects", key))
}

func (s *Store) noCreateShardedPath(kind string, h hashtree.Hash) string {
	hex := h.HexEncode()
	return filepath.Join(s.root, kind, hex[:2], hex[2:])
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// TmpDir creates and returns a fresh scratch directory under tmp/, named
// <target>_<unix_secs>_<pid> per spec.md §6. now must be the caller's
// current unix timestamp — the store never calls time.Now() itself so that
// scratch-directory naming stays deterministic and testable.
func (s *Store) TmpDir(target string, nowUnixSecs int64) (string, error) {
	name := fmt.Sprintf("%s_%d_%d", target, nowUnixSecs, os.Getpid())
	dir := filepath.Join(s.root, "tmp", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create tmp dir %s: %w", dir, err)
	}
	return dir, nil
}

// WriteAtomic writes data to path by writing into a sibling temp file in
// the same directory, fsyncing, then renaming into place — the same
// crash-safety idiom used throughout the corpus (write-temp, chmod, sync,
// close, rename) so a crash mid-write never leaves a corrupt trace or
// object at its canonical path.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: chmod temp file: %w", err)
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("store: rename into place: %w", err)
	}
	committed = true
	return nil
}
