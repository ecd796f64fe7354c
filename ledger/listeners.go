package ledger

import (
	"errors"
	"fmt"

	"github.com/ChristianF88/lgl/alf"
	"github.com/ChristianF88/lgl/chain"
	"github.com/ChristianF88/lgl/grammar"
	"github.com/ChristianF88/lgl/hashing"
	"github.com/ChristianF88/lgl/logparse"
	"github.com/ChristianF88/lgl/sldg"
)

// ErrAlfMismatch is returned when a recomputed row offset differs from the
// indexed one.
var ErrAlfMismatch = errors.New("offset index mismatch")

// ChainAppender forwards hashed rows into the chain file.
type ChainAppender struct {
	chain  *chain.File
	verify bool
}

// NewChainAppender wraps an open, writable chain file. With verify set,
// rows replayed over existing blocks are compared instead of ignored.
func NewChainAppender(c *chain.File, verify bool) *ChainAppender {
	return &ChainAppender{chain: c, verify: verify}
}

// RowHashParsed appends or verifies the block for the hashed row.
func (w *ChainAppender) RowHashParsed(input hashing.Hash, f, prev sldg.Frontier) error {
	return w.chain.Append(f.RowNumber(), input, f.FrontierHash(), w.verify)
}

// OffsetIndexer records each ledgered row's starting byte offset into the
// ascending-long file. It implements logparse.Listener. Appends stay
// buffered in the alf until the job commits.
type OffsetIndexer struct {
	logparse.NoopListener

	index   *alf.File
	verify  bool
	appends uint64
}

// NewOffsetIndexer wraps an open, writable offset index.
func NewOffsetIndexer(index *alf.File, verify bool) *OffsetIndexer {
	return &OffsetIndexer{index: index, verify: verify}
}

// RowsIndexed returns the number of offsets appended by this indexer.
func (x *OffsetIndexer) RowsIndexed() uint64 { return x.appends }

// ObserveLedgeredLine records or verifies the offset of row rowNo.
func (x *OffsetIndexer) ObserveLedgeredLine(rowNo uint64, g grammar.Grammar, offset int64, lineNo int64, line []byte) error {
	size := x.index.Size()
	switch {
	case rowNo <= size:
		if !x.verify {
			return nil
		}
		stored, err := x.index.Get(rowNo - 1)
		if err != nil {
			return err
		}
		if stored != offset {
			return fmt.Errorf("%w: row %d indexed at %d, parsed at %d", ErrAlfMismatch, rowNo, stored, offset)
		}
		return nil
	case rowNo == size+1:
		x.appends++
		return x.index.Append(offset)
	default:
		return fmt.Errorf("%w: row %d reached offset indexer holding %d entries", sldg.ErrInvalidState, rowNo, size)
	}
}

// checkpointValidator compares freshly computed frontiers against saved
// checkpoints the parse crosses.
type checkpointValidator struct {
	expected map[uint64]hashing.Hash // row number -> saved frontier hash
}

func (v *checkpointValidator) RowHashParsed(input hashing.Hash, f, prev sldg.Frontier) error {
	want, ok := v.expected[f.RowNumber()]
	if !ok {
		return nil
	}
	if f.FrontierHash() != want {
		return fmt.Errorf("%w: checkpoint at row %d does not match recomputed frontier",
			sldg.ErrHashConflict, f.RowNumber())
	}
	return nil
}
