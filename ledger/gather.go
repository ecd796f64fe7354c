package ledger

import (
	"fmt"
	"sort"

	"github.com/ChristianF88/lgl/grammar"
	"github.com/ChristianF88/lgl/hashing"
	"github.com/ChristianF88/lgl/logparse"
	"github.com/ChristianF88/lgl/sldg"
)

// CellTypeString is the cell type produced from text logs.
const CellTypeString = "STRING"

// Cell is one typed cell of a source row. Salted ledgers carry the derived
// per-cell salt so a holder can independently verify the cell hash without
// the seed.
type Cell struct {
	Type  string        `json:"type"`
	Value string        `json:"value"`
	Salt  *hashing.Hash `json:"salt,omitempty"`
}

// SourceRow is a reconstructed row: its number, its cells in column order,
// and the input hash they produce under the ledger's salt scheme.
type SourceRow struct {
	RowNo     uint64       `json:"rowNo"`
	Cells     []Cell       `json:"cells"`
	InputHash hashing.Hash `json:"inputHash"`
}

// BuildSourceRow tokenizes line and assembles the source row for rowNo.
// Cell values are copied out of the parse buffer.
func BuildSourceRow(rowNo uint64, g grammar.Grammar, line []byte, salt *hashing.TableSalt) SourceRow {
	tokens := g.Tokenize(line)
	row := SourceRow{
		RowNo:     rowNo,
		Cells:     make([]Cell, len(tokens)),
		InputHash: hashing.InputHash(rowNo, tokens, salt),
	}
	var rowSalt hashing.Hash
	if salt != nil {
		rowSalt = salt.RowSalt(rowNo)
	}
	for i, tok := range tokens {
		row.Cells[i] = Cell{Type: CellTypeString, Value: string(tok)}
		if salt != nil {
			cs := salt.CellSalt(rowSalt, uint32(i))
			row.Cells[i].Salt = &cs
		}
	}
	return row
}

// SourceGatherer collects source rows whose numbers satisfy a predicate, in
// row order. It implements logparse.Listener.
type SourceGatherer struct {
	logparse.NoopListener

	want func(uint64) bool
	salt *hashing.TableSalt
	rows []SourceRow
}

// NewSourceGatherer gathers the enumerated row numbers.
func NewSourceGatherer(rowNos []uint64, salt *hashing.TableSalt) *SourceGatherer {
	set := make(map[uint64]bool, len(rowNos))
	for _, n := range rowNos {
		set[n] = true
	}
	return &SourceGatherer{want: func(n uint64) bool { return set[n] }, salt: salt}
}

// NewSourceRangeGatherer gathers every row in [lo, hi].
func NewSourceRangeGatherer(lo, hi uint64, salt *hashing.TableSalt) *SourceGatherer {
	return &SourceGatherer{want: func(n uint64) bool { return n >= lo && n <= hi }, salt: salt}
}

// Rows returns the gathered rows in row-number order.
func (s *SourceGatherer) Rows() []SourceRow { return s.rows }

// ObserveLedgeredLine gathers the row if selected.
func (s *SourceGatherer) ObserveLedgeredLine(rowNo uint64, g grammar.Grammar, offset int64, lineNo int64, line []byte) error {
	if !s.want(rowNo) {
		return nil
	}
	if n := len(s.rows); n > 0 && s.rows[n-1].RowNo >= rowNo {
		return fmt.Errorf("%w: row %d gathered after %d", sldg.ErrInvalidState, rowNo, s.rows[n-1].RowNo)
	}
	s.rows = append(s.rows, BuildSourceRow(rowNo, g, line, s.salt))
	return nil
}

// PathGatherer collects, during a single parse, exactly the hashes needed
// to assemble a skip path through the given target rows. It implements
// RowHashListener.
type PathGatherer struct {
	stitched  []uint64
	stitchSet map[uint64]bool
	coverSet  map[uint64]bool
	inputs    map[uint64]hashing.Hash
	rowHashes map[uint64]hashing.Hash
	remaining int
}

// NewPathGatherer prepares a gatherer for the given target row numbers
// (deduplicated and sorted here).
func NewPathGatherer(targets []uint64) *PathGatherer {
	uniq := make(map[uint64]bool, len(targets))
	for _, n := range targets {
		uniq[n] = true
	}
	sorted := make([]uint64, 0, len(uniq))
	for n := range uniq {
		sorted = append(sorted, n)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	stitched := sldg.Stitch(sorted)
	g := &PathGatherer{
		stitched:  stitched,
		stitchSet: make(map[uint64]bool, len(stitched)),
		coverSet:  make(map[uint64]bool),
		inputs:    make(map[uint64]hashing.Hash, len(stitched)),
		rowHashes: make(map[uint64]hashing.Hash),
		remaining: len(stitched),
	}
	for _, n := range stitched {
		g.stitchSet[n] = true
	}
	for _, n := range sldg.RefOnlyCoverage(stitched) {
		g.coverSet[n] = true
	}
	return g
}

// RowHashParsed collects hashes for stitched and referenced-only rows.
func (g *PathGatherer) RowHashParsed(input hashing.Hash, f, prev sldg.Frontier) error {
	n := f.RowNumber()
	switch {
	case g.stitchSet[n]:
		if _, seen := g.inputs[n]; !seen {
			g.remaining--
		}
		g.inputs[n] = input
		g.rowHashes[n] = f.FrontierHash()
		// The previous frontier's skip pointers are the hashes of the
		// rows this row links to; recording them here covers referenced
		// rows the parse itself never visits (those before the resume
		// point).
		for i, ptr := range prev.SkipPointers() {
			ref := n - 1<<uint(i)
			if ref == 0 {
				continue
			}
			if _, ok := g.rowHashes[ref]; !ok {
				g.rowHashes[ref] = ptr
			}
		}
	case g.coverSet[n]:
		g.rowHashes[n] = f.FrontierHash()
	}
	return nil
}

// Complete reports whether every stitched row has been observed.
func (g *PathGatherer) Complete() bool { return g.remaining == 0 }

// Path assembles and verifies the gathered skip path.
func (g *PathGatherer) Path() (*sldg.Path, error) {
	if !g.Complete() {
		return nil, fmt.Errorf("%w: %d stitched rows not observed", sldg.ErrPathBroken, g.remaining)
	}
	rows := make([]sldg.PathRow, len(g.stitched))
	for i, n := range g.stitched {
		k := sldg.SkipCount(n)
		ptrs := make([]hashing.Hash, k)
		for l := 0; l < k; l++ {
			ref := n - 1<<uint(l)
			if ref == 0 {
				continue // sentinel zero value
			}
			rh, ok := g.rowHashes[ref]
			if !ok {
				return nil, fmt.Errorf("%w: missing hash of row %d referenced by %d", sldg.ErrPathBroken, ref, n)
			}
			ptrs[l] = rh
		}
		rows[i] = sldg.PathRow{RowNo: n, Input: g.inputs[n], Ptrs: ptrs}
	}
	return sldg.NewPath(rows)
}
