package ledger

import (
	"bufio"
	"fmt"
	"os"

	"github.com/ChristianF88/lgl/alf"
	"github.com/ChristianF88/lgl/chain"
	"github.com/ChristianF88/lgl/grammar"
	"github.com/ChristianF88/lgl/hashing"
	"github.com/ChristianF88/lgl/lglfile"
	"github.com/ChristianF88/lgl/logparse"
	"github.com/ChristianF88/lgl/sldg"
)

// BuildSkipLedger parses the log from the cheapest resumable state and
// records every row into the chain file, optionally filling the offset
// index alongside. With overwrite, existing chain and index contents are
// discarded first; with verify, the parse restarts at row 1 and every
// existing chain block and index entry is compared against the recomputed
// values. Returns the number of rows newly added to the chain.
func (l *LogLedger) BuildSkipLedger(indexSource, overwrite, verify bool) (uint64, error) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return 0, fmt.Errorf("creating artifact directory: %w", err)
	}
	lock, err := lglfile.AcquireLock(lglfile.LockPath(l.dir, l.logName))
	if err != nil {
		return 0, err
	}
	defer lock.Release()

	ch, err := chain.Open(lglfile.ChainPath(l.dir, l.logName), true)
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	var offIdx *alf.File
	offPath := lglfile.OffsetsPath(l.dir, l.logName)
	if indexSource {
		if offIdx, err = alf.Open(offPath, true); err != nil {
			return 0, err
		}
		defer offIdx.Close()
	} else if _, statErr := os.Stat(offPath); statErr == nil {
		// Read-only: an existing index still helps us seek.
		if offIdx, err = alf.Open(offPath, false); err != nil {
			return 0, err
		}
		defer offIdx.Close()
	}

	if overwrite {
		if err := ch.Truncate(); err != nil {
			return 0, err
		}
		if indexSource {
			if err := offIdx.Truncate(); err != nil {
				return 0, err
			}
		}
	}

	before := ch.Count()
	startRow := before + 1
	if verify {
		startRow = 1
	}
	if indexSource && offIdx.Size()+1 < startRow {
		startRow = offIdx.Size() + 1
	}

	parser := logparse.NewLogParser(l.rules.Grammar)
	var hasher *Hasher

	// Pick the cheapest resumable state. The chain covers every row below
	// startRow, so wherever the offset index lets us seek, the frontier at
	// that point comes from the chain itself; otherwise fall back to the
	// nearest checkpoint, then to byte 0.
	var seekTo int64
	seekRow := uint64(0)
	if startRow > 1 && offIdx != nil {
		seekRow = min64(startRow, offIdx.Size())
	}
	if seekRow > 1 && seekRow-1 <= ch.Count() {
		off, err := offIdx.Get(seekRow - 1)
		if err != nil {
			return 0, err
		}
		fr, err := ch.FrontierAt(seekRow - 1)
		if err != nil {
			return 0, err
		}
		parser.SetRowNo(seekRow - 1)
		if err := parser.SetLineEndOffset(off); err != nil {
			return 0, err
		}
		hasher = NewHasher(fr, l.rules.Salt)
		seekTo = off
	} else if ckpt, ok, err := l.NearestCheckpoint(startRow); err != nil {
		return 0, err
	} else if ok && startRow > 1 {
		parser.SetRowNo(ckpt.RowNumber() - 1)
		if err := parser.SetLineEndOffset(ckpt.PrevEol); err != nil {
			return 0, err
		}
		hasher = NewHasherFromCheckpoint(ckpt, l.rules.Salt)
		seekTo = ckpt.PrevEol
	} else {
		hasher = NewHasher(sldg.EmptyFrontier(), l.rules.Salt)
	}

	hasher.AddRowHashListener(NewChainAppender(ch, verify))
	parser.PushListener(hasher)
	if indexSource {
		parser.PushListener(NewOffsetIndexer(offIdx, verify))
	}

	log, err := os.Open(l.logPath)
	if err != nil {
		return 0, fmt.Errorf("opening log: %w", err)
	}
	defer log.Close()
	if seekTo > 0 {
		if _, err := log.Seek(seekTo, 0); err != nil {
			return 0, fmt.Errorf("seeking log: %w", err)
		}
	}

	if err := parser.Parse(log); err != nil {
		return 0, err
	}
	if indexSource {
		if err := offIdx.Commit(); err != nil {
			return 0, err
		}
	}
	if err := ch.Sync(); err != nil {
		return 0, err
	}
	return ch.Count() - before, nil
}

// StatePath assembles the skip path from row 1 to the last recorded row
// using only the chain file; the log itself is not read. Requires a built
// ledger.
func (l *LogLedger) StatePath() (*sldg.Path, error) {
	ch, err := l.LoadSkipLedger()
	if err != nil {
		return nil, err
	}
	if ch == nil || ch.Count() == 0 {
		if ch != nil {
			ch.Close()
		}
		return nil, chain.ErrNoChain
	}
	defer ch.Close()

	stitched := sldg.SkipPathNumbers(1, ch.Count())
	rows := make([]sldg.PathRow, len(stitched))
	for i, n := range stitched {
		input, err := ch.InputHash(n)
		if err != nil {
			return nil, err
		}
		k := sldg.SkipCount(n)
		ptrs := make([]hashing.Hash, k)
		for lvl := 0; lvl < k; lvl++ {
			rh, err := ch.RowHash(n - 1<<uint(lvl))
			if err != nil {
				return nil, err
			}
			ptrs[lvl] = rh
		}
		rows[i] = sldg.PathRow{RowNo: n, Input: input, Ptrs: ptrs}
	}
	return sldg.NewPath(rows)
}

// SourceIndex reads individual rows of the log by number through the offset
// index, without parsing the preceding rows.
type SourceIndex struct {
	log  *os.File
	idx  *alf.File
	g    grammar.Grammar
	salt *hashing.TableSalt
}

// LoadSourceIndex opens the offset index for random row access, or returns
// (nil, nil) when no index has been built.
func (l *LogLedger) LoadSourceIndex() (*SourceIndex, error) {
	offPath := lglfile.OffsetsPath(l.dir, l.logName)
	if _, err := os.Stat(offPath); os.IsNotExist(err) {
		return nil, nil
	}
	idx, err := alf.Open(offPath, false)
	if err != nil {
		return nil, err
	}
	log, err := os.Open(l.logPath)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("opening log: %w", err)
	}
	return &SourceIndex{log: log, idx: idx, g: l.rules.Grammar, salt: l.rules.Salt}, nil
}

// Size returns the number of indexed rows.
func (s *SourceIndex) Size() uint64 { return s.idx.Size() }

// Row reads and reconstructs row n.
func (s *SourceIndex) Row(n uint64) (SourceRow, error) {
	if n == 0 || n > s.idx.Size() {
		return SourceRow{}, fmt.Errorf("%w: row %d of %d indexed", ErrRowOutOfRange, n, s.idx.Size())
	}
	off, err := s.idx.Get(n - 1)
	if err != nil {
		return SourceRow{}, err
	}
	if _, err := s.log.Seek(off, 0); err != nil {
		return SourceRow{}, fmt.Errorf("seeking log: %w", err)
	}
	line, err := bufio.NewReader(s.log).ReadBytes('\n')
	if err != nil {
		return SourceRow{}, fmt.Errorf("reading row %d: %w", n, err)
	}
	return BuildSourceRow(n, s.g, line, s.salt), nil
}

// Close releases the index and log handles.
func (s *SourceIndex) Close() error {
	err := s.idx.Close()
	if cerr := s.log.Close(); err == nil {
		err = cerr
	}
	return err
}
