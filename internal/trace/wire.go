package trace

import (
	"encoding/binary"
	"fmt"

	"github.com/rsepassi/rebuild/internal/hashtree"
)

// magic is the fixed 4-byte header "RBTR" (spec.md §6).
var magic = [4]byte{0x52, 0x42, 0x54, 0x52}

// version is the only currently accepted trace format version.
const version uint32 = 1

// maxPathLen is the largest path length a dependency record may declare.
const maxPathLen = 4096

// encode serializes t to the bit-exact binary layout spec.md §6 defines:
// magic, u32 version, 32B request key, u64 dependency count, then per
// dependency {u32 path_len, path bytes, 32B hash}, then 32B output tree
// hash, u64 cpu_ms, u64 wall_ms — all little-endian.
func (t *Trace) encode() []byte {
	size := len(magic) + 4 + hashtree.Size + 8
	for _, d := range t.Dependencies {
		size += 4 + len(d.Path) + hashtree.Size
	}
	size += hashtree.Size + 8 + 8

	buf := make([]byte, size)
	pos := 0

	copy(buf[pos:], magic[:])
	pos += len(magic)

	binary.LittleEndian.PutUint32(buf[pos:], version)
	pos += 4

	copy(buf[pos:], t.RequestKey[:])
	pos += hashtree.Size

	binary.LittleEndian.PutUint64(buf[pos:], uint64(len(t.Dependencies)))
	pos += 8

	for _, d := range t.Dependencies {
		binary.LittleEndian.PutUint32(buf[pos:], uint32(len(d.Path)))
		pos += 4
		copy(buf[pos:], d.Path)
		pos += len(d.Path)
		copy(buf[pos:], d.Hash[:])
		pos += hashtree.Size
	}

	copy(buf[pos:], t.OutputTreeHash[:])
	pos += hashtree.Size

	binary.LittleEndian.PutUint64(buf[pos:], t.CPUMillis)
	pos += 8
	binary.LittleEndian.PutUint64(buf[pos:], t.WallMillis)
	pos += 8

	return buf
}

// decode parses the binary layout encode produces. It rejects any magic
// other than "RBTR", any version other than 1, and any declared path
// length greater than maxPathLen, returning a wrapped ErrCorrupt in each
// case. A truncated buffer is also reported as corrupt rather than
// panicking.
func decode(data []byte) (*Trace, error) {
	const headerLen = 4 + 4 + hashtree.Size + 8
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	pos := 0

	if [4]byte(data[pos:pos+4]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	pos += 4

	gotVersion := binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	if gotVersion != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, gotVersion)
	}

	t := &Trace{}
	copy(t.RequestKey[:], data[pos:pos+hashtree.Size])
	pos += hashtree.Size

	depCount := binary.LittleEndian.Uint64(data[pos:])
	pos += 8

	// Bound depCount against what could possibly still fit in data before
	// allocating: an untrusted trace could otherwise declare a huge count
	// and trigger an OOM here, long before the per-iteration truncation
	// checks below ever run.
	const minDependencyRecordLen = 4 + hashtree.Size // path_len + hash, zero-length path
	if maxPossible := uint64(len(data)-pos) / minDependencyRecordLen; depCount > maxPossible {
		return nil, fmt.Errorf("%w: dependency count %d exceeds buffer capacity", ErrCorrupt, depCount)
	}

	t.Dependencies = make([]Dependency, 0, depCount)
	for i := uint64(0); i < depCount; i++ {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated dependency %d length", ErrCorrupt, i)
		}
		pathLen := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		if pathLen > maxPathLen {
			return nil, fmt.Errorf("%w: dependency %d path length %d exceeds max %d", ErrCorrupt, i, pathLen, maxPathLen)
		}
		if pos+int(pathLen)+hashtree.Size > len(data) {
			return nil, fmt.Errorf("%w: truncated dependency %d body", ErrCorrupt, i)
		}
		path := string(data[pos : pos+int(pathLen)])
		pos += int(pathLen)

		var h hashtree.Hash
		copy(h[:], data[pos:pos+hashtree.Size])
		pos += hashtree.Size

		t.Dependencies = append(t.Dependencies, Dependency{Path: path, Hash: h})
	}

	if pos+hashtree.Size+8+8 > len(data) {
		return nil, fmt.Errorf("%w: truncated trailer", ErrCorrupt)
	}
	copy(t.OutputTreeHash[:], data[pos:pos+hashtree.Size])
	pos += hashtree.Size

	t.CPUMillis = binary.LittleEndian.Uint64(data[pos:])
	pos += 8
	t.WallMillis = binary.LittleEndian.Uint64(data[pos:])
	pos += 8

	return t, nil
}
