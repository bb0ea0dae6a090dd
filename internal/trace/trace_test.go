package trace

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsepassi/rebuild/internal/hashtree"
	"github.com/rsepassi/rebuild/internal/store"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := hashtree.String("request-key")
	tr := Create(key)
	tr.AddDependency("a/b.txt", hashtree.String("a-content"))
	tr.AddDependency("c/d", hashtree.String("c-content"))
	tr.OutputTreeHash = hashtree.String("output")
	tr.CPUMillis = 123
	tr.WallMillis = 456

	data := tr.encode()
	got, err := decode(data)
	require.NoError(t, err)

	assert.Equal(t, tr.RequestKey, got.RequestKey)
	assert.Equal(t, tr.Dependencies, got.Dependencies)
	assert.Equal(t, tr.OutputTreeHash, got.OutputTreeHash)
	assert.Equal(t, tr.CPUMillis, got.CPUMillis)
	assert.Equal(t, tr.WallMillis, got.WallMillis)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	tr := Create(hashtree.String("k"))
	data := tr.encode()
	data[0] = 0xFF
	_, err := decode(data)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	tr := Create(hashtree.String("k"))
	data := tr.encode()
	data[4] = 2 // version field starts right after the 4-byte magic
	_, err := decode(data)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeRejectsOversizedPathLen(t *testing.T) {
	tr := Create(hashtree.String("k"))
	tr.AddDependency("x", hashtree.String("x"))
	data := tr.encode()

	// Overwrite the first dependency's path_len field with a too-large value.
	pathLenOffset := 4 + 4 + hashtree.Size + 8
	data[pathLenOffset] = 0xFF
	data[pathLenOffset+1] = 0xFF
	data[pathLenOffset+2] = 0xFF
	data[pathLenOffset+3] = 0x00

	_, err := decode(data)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeRejectsHugeDependencyCountWithoutAllocating(t *testing.T) {
	tr := Create(hashtree.String("k"))
	data := tr.encode()

	// Overwrite the (zero) dependency count with a value far larger than
	// the buffer could possibly hold, simulating a corrupt or hostile
	// trace. decode must reject this before attempting to allocate a
	// slice sized by the untrusted count.
	depCountOffset := 4 + 4 + hashtree.Size
	binary.LittleEndian.PutUint64(data[depCountOffset:], 1<<40)

	_, err := decode(data)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeRejectsTruncatedData(t *testing.T) {
	tr := Create(hashtree.String("k"))
	tr.AddDependency("x", hashtree.String("x"))
	data := tr.encode()
	_, err := decode(data[:len(data)-5])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := store.InitAt(root)
	require.NoError(t, err)

	key := hashtree.String("req")
	tr := Create(key)
	tr.AddDependency("a", hashtree.String("a"))
	tr.OutputTreeHash = hashtree.String("out")
	tr.CPUMillis = 10
	tr.WallMillis = 20

	require.NoError(t, tr.Save(s))

	got, err := Load(key, s)
	require.NoError(t, err)
	assert.Equal(t, tr.Dependencies, got.Dependencies)
	assert.Equal(t, tr.OutputTreeHash, got.OutputTreeHash)
}

func TestLoadReturnsNotFoundWhenAbsent(t *testing.T) {
	root := t.TempDir()
	s, err := store.InitAt(root)
	require.NoError(t, err)

	_, err = Load(hashtree.String("missing"), s)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRejectsKeyMismatch(t *testing.T) {
	root := t.TempDir()
	s, err := store.InitAt(root)
	require.NoError(t, err)

	realKey := hashtree.String("real")
	otherKey := hashtree.String("other")
	tr := Create(realKey)
	require.NoError(t, tr.Save(s))

	// Write the same bytes under a different lookup key's path to simulate
	// a corrupted/misplaced trace file.
	otherPath, err := s.TracePath(otherKey)
	require.NoError(t, err)
	require.NoError(t, store.WriteAtomic(otherPath, tr.encode(), 0o644))

	_, err = Load(otherKey, s)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestValidatePassesWhenDependenciesUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dep.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	tr := Create(hashtree.String("k"))
	h, err := hashtree.File(path)
	require.NoError(t, err)
	tr.AddDependency(path, h)

	assert.True(t, tr.Validate())
}

func TestValidateFailsOnChangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dep.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	tr := Create(hashtree.String("k"))
	h, err := hashtree.File(path)
	require.NoError(t, err)
	tr.AddDependency(path, h)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))
	assert.False(t, tr.Validate())
}

func TestValidateFailsOnMissingDependency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dep.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	tr := Create(hashtree.String("k"))
	h, err := hashtree.File(path)
	require.NoError(t, err)
	tr.AddDependency(path, h)

	require.NoError(t, os.Remove(path))
	assert.False(t, tr.Validate())
}

func TestValidateStopsAtFirstMismatchEarlyCutoff(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("B"), 0o644))

	ha, err := hashtree.File(a)
	require.NoError(t, err)
	hb, err := hashtree.File(b)
	require.NoError(t, err)

	tr := Create(hashtree.String("k"))
	tr.AddDependency(a, ha)
	tr.AddDependency(b, hb)

	require.NoError(t, os.WriteFile(a, []byte("A-changed"), 0o644))
	assert.False(t, tr.Validate())
}

func TestValidateHandlesDirectoryDependencies(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "f.txt"), []byte("f"), 0o644))

	h, err := hashtree.Tree(sub)
	require.NoError(t, err)

	tr := Create(hashtree.String("k"))
	tr.AddDependency(sub, h)
	assert.True(t, tr.Validate())

	require.NoError(t, os.WriteFile(filepath.Join(sub, "g.txt"), []byte("g"), 0o644))
	assert.False(t, tr.Validate())
}
