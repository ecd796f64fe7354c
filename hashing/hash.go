// Package hashing provides the 32-byte hash value type used throughout the
// ledger, SHA-256 digest helpers backed by pooled hash states, and the salt
// derivation scheme for salted table hashing.
package hashing

import (
	"encoding/hex"
	"fmt"
	"hash"
	"sync"

	sha256 "github.com/minio/sha256-simd"
)

// HashSize is the byte width of every digest in the ledger.
const HashSize = 32

// Hash is an immutable 32-byte SHA-256 digest. The zero value is the
// sentinel hash.
type Hash [HashSize]byte

// Sentinel is the distinguished all-zero hash. It stands in for the row hash
// of the abstract row 0 and for the input hash of an empty (cell-less) row.
var Sentinel Hash

// IsSentinel reports whether h is the all-zero sentinel.
func (h Hash) IsSentinel() bool {
	return h == Sentinel
}

// Hex returns the lowercase hex encoding of h.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// MarshalJSON encodes the hash as a lowercase hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.Hex() + `"`), nil
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) != HashSize*2+2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("malformed hash literal %s", data)
	}
	_, err := hex.Decode(h[:], data[1:len(data)-1])
	return err
}

// HashFromBytes copies a 32-byte slice into a Hash. Panics if b is not
// exactly HashSize bytes; callers validate lengths at file boundaries.
func HashFromBytes(b []byte) Hash {
	if len(b) != HashSize {
		panic("hashing: bad digest length")
	}
	var h Hash
	copy(h[:], b)
	return h
}

// shaPool recycles SHA-256 states across digest computations.
// sha256-simd dispatches to SHA extensions / AVX-512 at runtime, and pooling
// the states keeps the hot hashing loop allocation-free.
var shaPool = sync.Pool{
	New: func() interface{} { return sha256.New() },
}

// Sum computes SHA-256 over the concatenation of parts using a pooled state.
func Sum(parts ...[]byte) Hash {
	h := shaPool.Get().(hash.Hash)
	h.Reset()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	h.Sum(out[:0])
	shaPool.Put(h)
	return out
}
