package sldg

import (
	"fmt"

	"github.com/ChristianF88/lgl/hashing"
)

// RowHash computes R(n) from the row's input hash and its k(n) skip-pointer
// hashes. ptrs[i] must be R(n - 2^i); len(ptrs) must be SkipCount(n).
func RowHash(n uint64, input hashing.Hash, ptrs []hashing.Hash) hashing.Hash {
	if len(ptrs) != SkipCount(n) {
		panic(fmt.Sprintf("sldg: row %d needs %d skip pointers, got %d", n, SkipCount(n), len(ptrs)))
	}
	parts := make([][]byte, 0, len(ptrs)+1)
	parts = append(parts, input[:])
	for i := range ptrs {
		parts = append(parts, ptrs[i][:])
	}
	return hashing.Sum(parts...)
}

// Frontier is the minimal hashing state at row N: the row number plus the
// row hashes the ledger still needs to advance. Level l holds the hash of
// row N with its low l bits cleared; levels at or beyond the bit length of N
// reference row 0 and are the sentinel. Level 0 is R(N) itself.
//
// A Frontier is immutable; NextFrontier returns a fresh value sharing no
// state with its predecessor.
type Frontier struct {
	rowNo  uint64
	levels []hashing.Hash
}

// EmptyFrontier returns F(0): row number zero, no levels.
func EmptyFrontier() Frontier {
	return Frontier{}
}

// NewFrontier reconstructs a frontier from its row number and serialized
// levels (level order, levelCount(rowNo) entries).
func NewFrontier(rowNo uint64, levels []hashing.Hash) (Frontier, error) {
	if len(levels) != levelCount(rowNo) {
		return Frontier{}, fmt.Errorf("frontier at row %d needs %d levels, got %d",
			rowNo, levelCount(rowNo), len(levels))
	}
	cp := make([]hashing.Hash, len(levels))
	copy(cp, levels)
	return Frontier{rowNo: rowNo, levels: cp}, nil
}

// RowNumber returns N.
func (f Frontier) RowNumber() uint64 { return f.rowNo }

// Levels returns a copy of the stored level hashes (levelCount(N) entries).
func (f Frontier) Levels() []hashing.Hash {
	cp := make([]hashing.Hash, len(f.levels))
	copy(cp, f.levels)
	return cp
}

// FrontierHash returns R(N), the hash of the frontier row. The sentinel for
// F(0).
func (f Frontier) FrontierHash() hashing.Hash {
	if f.rowNo == 0 {
		return hashing.Sentinel
	}
	return f.levels[0]
}

// LevelHash returns the hash stored at the given level: R(levelRow(N, l)).
func (f Frontier) LevelHash(level int) hashing.Hash {
	if level >= len(f.levels) {
		return hashing.Sentinel
	}
	return f.levels[level]
}

// RowHashAt returns R(n) if n is one of the rows this frontier covers
// (a level row or row 0); ok is false otherwise.
func (f Frontier) RowHashAt(n uint64) (hashing.Hash, bool) {
	if n == 0 {
		return hashing.Sentinel, true
	}
	for l := 0; l < len(f.levels); l++ {
		if levelRow(f.rowNo, l) == n {
			return f.levels[l], true
		}
	}
	return hashing.Hash{}, false
}

// SkipPointers returns the k(N+1) hashes R(N+1-2^i) that the next row links
// to, in level order. This is exactly the tail of the next row's hashed
// preimage.
func (f Frontier) SkipPointers() []hashing.Hash {
	next := f.rowNo + 1
	k := SkipCount(next)
	ptrs := make([]hashing.Hash, k)
	for i := 0; i < k; i++ {
		// next has i low zero bits here, so next-2^i is N with its low
		// i bits cleared: level i of this frontier.
		ptrs[i] = f.LevelHash(i)
	}
	return ptrs
}

// NextFrontier advances F(N) to F(N+1) given the next row's input hash.
// This is the core recurrence of the engine: level 0 becomes the new row
// hash, and level l >= 1 becomes the new row hash where 2^l divides N+1, or
// stays as before otherwise.
func (f Frontier) NextFrontier(input hashing.Hash) Frontier {
	next := f.rowNo + 1
	rh := RowHash(next, input, f.SkipPointers())

	nl := levelCount(next)
	levels := make([]hashing.Hash, nl)
	for l := 0; l < nl; l++ {
		if next%(1<<uint(l)) == 0 {
			levels[l] = rh
		} else {
			levels[l] = f.LevelHash(l)
		}
	}
	return Frontier{rowNo: next, levels: levels}
}
