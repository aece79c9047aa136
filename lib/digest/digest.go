// Package digest provides the fixed-width keys of the index tree.
//
// A Digest is a 20 byte RIPEMD-160 hash of a set name and a user key. Digests
// are totally ordered by big-endian unsigned byte-wise comparison; equal
// digests denote the same key.
package digest

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ripemd160"
)

// Size is the width of a digest in bytes
const Size = ripemd160.Size

// Digest is a fixed-width index key
type Digest [Size]byte

// Compute hashes the set name and key into a digest
func Compute(set string, key []byte) Digest {
	h := ripemd160.New()
	// hash.Hash writes never fail
	_, _ = h.Write([]byte(set))
	_, _ = h.Write(key)

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// ComputeString is Compute for string keys
func ComputeString(set, key string) Digest {
	return Compute(set, []byte(key))
}

// Compare returns -1, 0 or +1 comparing a and b byte by byte
func Compare(a, b Digest) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether d sorts before other
func (d Digest) Less(other Digest) bool {
	return Compare(d, other) < 0
}

// String returns the hex encoding of d
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Parse decodes a hex encoded digest
func Parse(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	if len(b) != Size {
		return d, fmt.Errorf("invalid digest %q: expected %d bytes, got %d", s, Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}
