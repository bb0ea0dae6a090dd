// Package hashtree computes content hashes over bytes, files, and directory
// trees for use as identity in the recipe cache and content-addressed store.
package hashtree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a Hash.
const Size = 32

// Hash is a 256-bit content hash. It is comparable with ==.
type Hash [Size]byte

// Zero is the all-zero hash, used as the XOR-combine identity element and as
// the sentinel "no module" tool hash (spec.md §3, Tool.module_hash).
var Zero Hash

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Zero }

// Combine XORs other into h and returns the result. Combine is commutative
// and associative, so folding a set of hashes via Combine is independent of
// fold order — this is what makes directory hashing and request-key
// composition order-independent at each level (spec.md §4.1, §4.4).
func (h Hash) Combine(other Hash) Hash {
	var out Hash
	for i := range out {
		out[i] = h[i] ^ other[i]
	}
	return out
}

// HexEncode returns the 64-character lowercase hex encoding of h.
func (h Hash) HexEncode() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer via HexEncode.
func (h Hash) String() string { return h.HexEncode() }

// HexDecode parses a 64-character lowercase hex string into a Hash.
// It rejects any input that is not exactly Size*2 hex characters.
func HexDecode(s string) (Hash, error) {
	var h Hash
	if len(s) != Size*2 {
		return h, fmt.Errorf("hashtree: hex string has length %d, want %d", len(s), Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hashtree: decode hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Bytes computes a one-shot hash over an in-memory byte slice.
func Bytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(sum)
}

// String hashes the UTF-8 bytes of s. Convenience wrapper used throughout the
// request-key composition (target names, dependency paths) where spec.md §4.4
// says "mix in hash_bytes(...)".
func String(s string) Hash {
	return Bytes([]byte(s))
}

// CombineAll folds Combine over hs in the given order. Since Combine is
// commutative, the result does not depend on the order of hs — only on the
// set (with multiplicity: duplicates cancel out, matching XOR semantics).
func CombineAll(hs ...Hash) Hash {
	acc := Zero
	for _, h := range hs {
		acc = acc.Combine(h)
	}
	return acc
}
