// Package sldg implements the skip-ledger hashing algebra: skip counts, row
// hashes, hash frontiers, and skip-path construction and verification.
//
// Every row N of a ledger carries k(N) back-pointers to the row hashes at
// N-1, N-2, N-4, ... N-2^(k(N)-1), where k(N) is one plus the number of
// trailing zero bits of N. The hash of the final row therefore commits to
// every row before it, and any two rows are connected by a short path of
// power-of-two hops.
package sldg

import (
	"math/bits"
	"sort"
)

// SkipCount returns k(n), the number of skip pointers of row n: one plus the
// count of trailing zero bits. n must be >= 1.
func SkipCount(n uint64) int {
	return 1 + bits.TrailingZeros64(n)
}

// Linked reports whether row hi carries a skip pointer to row lo, i.e.
// whether hi-lo is a power of two no greater than 2^(k(hi)-1). lo may be 0
// (the abstract sentinel row).
func Linked(lo, hi uint64) bool {
	if lo >= hi {
		return false
	}
	d := hi - lo
	if d&(d-1) != 0 {
		return false
	}
	return bits.TrailingZeros64(d) < SkipCount(hi)
}

// levelCount returns the number of stored frontier levels for row n: the bit
// length of n. Levels at or above this index reference row 0 and hash to the
// sentinel.
func levelCount(n uint64) int {
	return bits.Len64(n)
}

// levelRow returns the row a frontier at row n references at the given
// level: n with its low `level` bits cleared. Level 0 is n itself.
func levelRow(n uint64, level int) uint64 {
	if level >= 64 {
		return 0
	}
	return n &^ (1<<uint(level) - 1)
}

// SkipPathNumbers returns the strictly descending-free (ascending) row
// numbers of the shortest skip path from lo up to hi, inclusive of both.
// The path is found by greedy descent from hi: at each step take the widest
// skip pointer that does not overshoot lo. The result is unique.
//
// Implemented iteratively; the path length is at most 2*64 hops.
func SkipPathNumbers(lo, hi uint64) []uint64 {
	if lo < 1 || lo > hi {
		return nil
	}
	// Collect descending, then reverse.
	nums := []uint64{hi}
	for cur := hi; cur > lo; {
		k := SkipCount(cur)
		step := uint64(1) << uint(k-1)
		for step > cur-lo {
			step >>= 1
		}
		cur -= step
		nums = append(nums, cur)
	}
	for i, j := 0, len(nums)-1; i < j; i, j = i+1, j-1 {
		nums[i], nums[j] = nums[j], nums[i]
	}
	return nums
}

// Stitch expands a sorted, de-duplicated set of target row numbers into the
// full stitched path row list: every target, plus the skip-path numbers
// between each consecutive pair. The result is strictly ascending.
func Stitch(targets []uint64) []uint64 {
	if len(targets) == 0 {
		return nil
	}
	out := []uint64{targets[0]}
	for i := 1; i < len(targets); i++ {
		seg := SkipPathNumbers(targets[i-1], targets[i])
		out = append(out, seg[1:]...)
	}
	return out
}

// RefOnlyCoverage returns the rows referenced by skip pointers of the
// stitched rows but not themselves stitched, in ascending order. Row 0 is
// never included; its hash is the known sentinel.
func RefOnlyCoverage(stitched []uint64) []uint64 {
	inPath := make(map[uint64]bool, len(stitched))
	for _, n := range stitched {
		inPath[n] = true
	}
	refs := make(map[uint64]bool)
	for _, n := range stitched {
		k := SkipCount(n)
		for i := 0; i < k; i++ {
			ref := n - 1<<uint(i)
			if ref != 0 && !inPath[ref] {
				refs[ref] = true
			}
		}
	}
	out := make([]uint64, 0, len(refs))
	for n := range refs {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
