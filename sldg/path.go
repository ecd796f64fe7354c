package sldg

import (
	"errors"
	"fmt"

	"github.com/ChristianF88/lgl/hashing"
)

// ErrPathBroken is returned when a path's hashes do not link.
var ErrPathBroken = errors.New("skip path broken")

// ErrHashConflict is returned when a recomputed hash differs from a
// persisted one. It signals tampering, log truncation, or a grammar change;
// it is never recoverable without a rebuild.
var ErrHashConflict = errors.New("hash conflict")

// ErrInvalidState is returned when rows reach a hashing component out of
// order or with gaps. It indicates an orchestration bug, not bad data.
var ErrInvalidState = errors.New("invalid state")

// PathRow is one row of a skip path: the row number, the row's input hash,
// and its k(RowNo) skip-pointer hashes in level order. Together these are
// the full preimage of the row hash.
type PathRow struct {
	RowNo uint64         `json:"rowNo"`
	Input hashing.Hash   `json:"inputHash"`
	Ptrs  []hashing.Hash `json:"skipPointers"`
}

// Hash recomputes the row hash from the preimage.
func (r PathRow) Hash() hashing.Hash {
	return RowHash(r.RowNo, r.Input, r.Ptrs)
}

// PtrHash returns the pointer hash R(RowNo - 2^level).
func (r PathRow) PtrHash(level int) hashing.Hash {
	return r.Ptrs[level]
}

// Path is a verified skip path: a stitched, strictly ascending sequence of
// rows in which every row is reachable from the last via skip pointers, and
// every pointer into an in-path row matches that row's recomputed hash.
// Construction fails rather than yield an unverifiable path.
type Path struct {
	rows []PathRow
}

// NewPath validates rows and builds a Path.
//
// Validation recomputes every row hash in ascending order and checks that
// each consecutive pair is directly linked with matching hashes, so a
// returned Path proves its first row is committed by its last.
func NewPath(rows []PathRow) (*Path, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrPathBroken)
	}
	hashes := make(map[uint64]hashing.Hash, len(rows))
	var prev uint64
	for i, r := range rows {
		if r.RowNo == 0 {
			return nil, fmt.Errorf("%w: row 0 in path", ErrPathBroken)
		}
		if i > 0 && r.RowNo <= prev {
			return nil, fmt.Errorf("%w: row numbers not ascending at %d", ErrPathBroken, r.RowNo)
		}
		if len(r.Ptrs) != SkipCount(r.RowNo) {
			return nil, fmt.Errorf("%w: row %d has %d pointers, needs %d",
				ErrPathBroken, r.RowNo, len(r.Ptrs), SkipCount(r.RowNo))
		}
		// Pointers into rows already on the path must agree with the
		// recomputed hashes; a pointer to row 0 must be the sentinel.
		for l, ptr := range r.Ptrs {
			ref := r.RowNo - 1<<uint(l)
			if ref == 0 {
				if !ptr.IsSentinel() {
					return nil, fmt.Errorf("%w: row %d level %d not sentinel", ErrPathBroken, r.RowNo, l)
				}
				continue
			}
			if known, ok := hashes[ref]; ok && known != ptr {
				return nil, fmt.Errorf("%w: row %d pointer to %d mismatched", ErrPathBroken, r.RowNo, ref)
			}
		}
		if i > 0 && !Linked(prev, r.RowNo) {
			return nil, fmt.Errorf("%w: rows %d and %d not linked", ErrPathBroken, prev, r.RowNo)
		}
		hashes[r.RowNo] = r.Hash()
		prev = r.RowNo
	}
	// Each consecutive pair must actually use the link: the later row's
	// pointer at the linking level equals the earlier row's hash. That is
	// implied by the pointer check above whenever the level resolves to an
	// in-path row, which Linked guarantees.
	cp := make([]PathRow, len(rows))
	copy(cp, rows)
	return &Path{rows: cp}, nil
}

// Rows returns the path rows in ascending order.
func (p *Path) Rows() []PathRow {
	cp := make([]PathRow, len(p.rows))
	copy(cp, p.rows)
	return cp
}

// Lo returns the first (lowest) row number.
func (p *Path) Lo() uint64 { return p.rows[0].RowNo }

// Hi returns the last (highest) row number.
func (p *Path) Hi() uint64 { return p.rows[len(p.rows)-1].RowNo }

// Last returns the highest row.
func (p *Path) Last() PathRow { return p.rows[len(p.rows)-1] }

// HasRow reports whether row n is on the path.
func (p *Path) HasRow(n uint64) bool {
	_, ok := p.RowByNumber(n)
	return ok
}

// RowByNumber returns the path row numbered n.
func (p *Path) RowByNumber(n uint64) (PathRow, bool) {
	lo, hi := 0, len(p.rows)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case p.rows[mid].RowNo == n:
			return p.rows[mid], true
		case p.rows[mid].RowNo < n:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return PathRow{}, false
}

// LastHash returns the recomputed hash of the highest row. For an intact
// ledger this equals the frontier hash at Hi().
func (p *Path) LastHash() hashing.Hash {
	return p.Last().Hash()
}
