package hashtree

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sort"
)

// chunkSize is the minimum streaming read size for File, per spec.md §4.1
// ("streaming over the file in chunks of at least 8 KiB").
const chunkSize = 8 * 1024

// File computes a streaming hash over the regular file at path. It never
// reads the whole file into memory at once.
func File(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("hashtree: open %s: %w", path, err)
	}
	defer f.Close()
	return hashReader(f)
}

func hashReader(r io.Reader) (Hash, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return Hash{}, fmt.Errorf("hashtree: read: %w", err)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Tree computes a content hash over path. If path names a regular file, the
// result is identical to File(path). If path names a directory, child
// entries (excluding "." and "..") are sorted lexicographically by name and
// folded into an accumulator, starting from the all-zero hash: for each
// child, hash_bytes(name) is combined, then Tree(child) is combined, via
// XOR-combine (spec.md §4.1).
//
// An unreadable child directory entry is reported to OnUnreadable and
// skipped rather than failing the whole walk — this is the build-side
// ("warn-and-continue") behavior; Trace validation in internal/trace calls
// Tree with OnUnreadable replaced so that any unreadable child turns into
// a mismatch instead.
func Tree(path string) (Hash, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Hash{}, fmt.Errorf("hashtree: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return File(path)
	}
	return hashDir(path)
}

// OnUnreadable, if set, is called with the path and error of any directory
// entry that cannot be hashed during Tree's warn-and-continue walk. The CLI
// installs a logger warning here, tests install recorders, and trace
// validation swaps in its own hook for the duration of a check; it
// defaults to a no-op.
var OnUnreadable = func(path string, err error) {}

func hashDir(path string) (Hash, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return Hash{}, fmt.Errorf("hashtree: readdir %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	acc := Zero
	for _, name := range names {
		childPath := path + string(os.PathSeparator) + name
		childHash, err := Tree(childPath)
		if err != nil {
			OnUnreadable(childPath, err)
			continue
		}
		acc = acc.Combine(String(name)).Combine(childHash)
	}
	return acc, nil
}
