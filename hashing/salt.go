package hashing

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// SeedSize is the byte width of a table-salt seed.
const SeedSize = 32

// TableSalt derives per-row and per-cell salts from a 32-byte secret seed.
//
// Derivation chain:
//
//	rowSalt(n)     = SHA256(seed || bigEndian64(n))
//	cellSalt(n, c) = SHA256(rowSalt(n) || bigEndian32(c))
//
// The seed is exposed only through Seed, for persisting; salting is one-way.
type TableSalt struct {
	seed [SeedSize]byte
}

// NewTableSalt wraps an existing 32-byte seed, typically read back from the
// rules file.
func NewTableSalt(seed []byte) (*TableSalt, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("table salt seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	ts := &TableSalt{}
	copy(ts.seed[:], seed)
	return ts, nil
}

// GenerateTableSalt creates a fresh salt from the OS cryptographic RNG.
func GenerateTableSalt() (*TableSalt, error) {
	ts := &TableSalt{}
	if _, err := rand.Read(ts.seed[:]); err != nil {
		return nil, fmt.Errorf("generating table salt: %w", err)
	}
	return ts, nil
}

// Seed returns a copy of the raw seed for persisting into the rules file.
func (ts *TableSalt) Seed() []byte {
	out := make([]byte, SeedSize)
	copy(out, ts.seed[:])
	return out
}

// RowSalt derives the salt for row n (1-based).
func (ts *TableSalt) RowSalt(n uint64) Hash {
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], n)
	return Sum(ts.seed[:], be[:])
}

// CellSalt derives the salt for column col of a row, given that row's salt.
func (ts *TableSalt) CellSalt(rowSalt Hash, col uint32) Hash {
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], col)
	return Sum(rowSalt[:], be[:])
}
