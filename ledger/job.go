package ledger

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/ChristianF88/lgl/alf"
	"github.com/ChristianF88/lgl/hashing"
	"github.com/ChristianF88/lgl/lglfile"
	"github.com/ChristianF88/lgl/logparse"
	"github.com/ChristianF88/lgl/sldg"
)

// ErrJobSpent is returned when a job is executed a second time. Jobs are
// single-shot; build a new one for a re-run.
var ErrJobSpent = errors.New("job already executed")

// ErrRowOutOfRange is returned for a row-number option of zero, and by
// SourceIndex.Row for a row outside the index.
var ErrRowOutOfRange = errors.New("row number out of range")

// Job is a declarative description of what one parse pass must produce.
// Mutators return the receiver for chaining; the description is frozen by
// Execute.
type Job struct {
	lgr *LogLedger

	computeHash   bool
	minRowHashed  uint64
	maxRowHashed  uint64 // 0 means unbounded
	saveState     bool
	overwriteCkpt bool
	validateCkpt  bool
	indexOffsets  bool
	useOffsets    bool
	verifyOffsets bool
	srcNos        []uint64
	pathNos       []uint64

	configErr error
	executed  bool
}

// ComputeHash enables the hasher for this job.
func (j *Job) ComputeHash(on bool) *Job {
	j.computeHash = on
	return j
}

// MinRowHashed sets the earliest row whose hash the job must produce.
func (j *Job) MinRowHashed(n uint64) *Job {
	if n == 0 {
		j.configErr = fmt.Errorf("%w: minRowHashed 0", ErrRowOutOfRange)
		return j
	}
	j.minRowHashed = n
	j.computeHash = true
	return j
}

// MaxRowHashed bounds the parse: the job stops after this row.
func (j *Job) MaxRowHashed(n uint64) *Job {
	if n == 0 {
		j.configErr = fmt.Errorf("%w: maxRowHashed 0", ErrRowOutOfRange)
		return j
	}
	j.maxRowHashed = n
	j.computeHash = true
	return j
}

// SaveParseState writes a checkpoint for the final hashed row on success.
func (j *Job) SaveParseState(on bool) *Job {
	j.saveState = on
	if on {
		j.computeHash = true
	}
	return j
}

// OverwriteCheckpoints permits replacing a conflicting checkpoint at the
// same row number.
func (j *Job) OverwriteCheckpoints(on bool) *Job {
	j.overwriteCkpt = on
	return j
}

// ValidateCheckpoints verifies saved checkpoints the parse crosses against
// the recomputed frontier.
func (j *Job) ValidateCheckpoints(on bool) *Job {
	j.validateCkpt = on
	if on {
		j.computeHash = true
	}
	return j
}

// IndexOffsets enables the offset indexer.
func (j *Job) IndexOffsets(on bool) *Job {
	j.indexOffsets = on
	return j
}

// UseOffsetsIndex permits seeking via an existing offset index instead of
// parsing from byte 0 when no hashing is required before the seek point.
func (j *Job) UseOffsetsIndex(on bool) *Job {
	j.useOffsets = on
	return j
}

// VerifyOffsetsIndex re-checks pre-existing index entries against computed
// offsets while indexing.
func (j *Job) VerifyOffsetsIndex(on bool) *Job {
	j.verifyOffsets = on
	return j
}

// AddSourceRow includes row n in the source gather, and optionally in the
// path.
func (j *Job) AddSourceRow(n uint64, withPath bool) *Job {
	if n == 0 {
		j.configErr = fmt.Errorf("%w: source row 0", ErrRowOutOfRange)
		return j
	}
	j.srcNos = append(j.srcNos, n)
	if withPath {
		j.AddToPath(n)
	}
	return j
}

// AddToPath includes row n in the gathered skip path. Implies ComputeHash.
func (j *Job) AddToPath(n uint64) *Job {
	if n == 0 {
		j.configErr = fmt.Errorf("%w: path row 0", ErrRowOutOfRange)
		return j
	}
	j.pathNos = append(j.pathNos, n)
	j.computeHash = true
	return j
}

// JobResult packages what a parse pass produced.
type JobResult struct {
	// State is the checkpoint-shaped parse state at the final hashed row;
	// nil when the job did not hash (or the log had no rows).
	State *lglfile.Checkpoint
	// RowsHashed counts rows newly hashed by this job.
	RowsHashed uint64
	// RowsIndexed counts offsets newly appended to the index.
	RowsIndexed uint64
	// Path is the gathered skip path, when requested.
	Path *sldg.Path
	// Sources are the gathered source rows in row order.
	Sources []SourceRow
}

// Execute runs the job: one parse pass from the nearest resumable state.
// A job executes at most once; Execute on a spent job fails.
func (j *Job) Execute() (*JobResult, error) {
	if j.executed {
		return nil, ErrJobSpent
	}
	j.executed = true
	if j.configErr != nil {
		return nil, j.configErr
	}

	l := j.lgr
	if j.saveState || j.indexOffsets {
		if err := os.MkdirAll(l.dir, 0755); err != nil {
			return nil, fmt.Errorf("creating artifact directory: %w", err)
		}
		lock, err := lglfile.AcquireLock(lglfile.LockPath(l.dir, l.logName))
		if err != nil {
			return nil, err
		}
		defer lock.Release()
	}

	// Open the offset index as needed: writable when indexing, read-only
	// when only seeking through it.
	var offIdx *alf.File
	offPath := lglfile.OffsetsPath(l.dir, l.logName)
	switch {
	case j.indexOffsets:
		idx, err := alf.Open(offPath, true)
		if err != nil {
			return nil, err
		}
		offIdx = idx
		defer offIdx.Close()
	case j.useOffsets:
		if _, err := os.Stat(offPath); err == nil {
			idx, err := alf.Open(offPath, false)
			if err != nil {
				return nil, err
			}
			offIdx = idx
			defer offIdx.Close()
		}
	}

	// Bounds of the work: the lowest row any artifact needs, and the row
	// the parse may stop at.
	startRow := uint64(math.MaxUint64)
	if j.computeHash {
		startRow = 1
		if j.minRowHashed > 1 {
			startRow = j.minRowHashed
		}
	}
	stopRow := uint64(math.MaxUint64)
	if j.maxRowHashed > 0 {
		stopRow = j.maxRowHashed
	}
	for _, n := range j.srcNos {
		startRow = min64(startRow, n)
		if stopRow != math.MaxUint64 {
			stopRow = max64(stopRow, n)
		}
	}
	for _, n := range j.pathNos {
		startRow = min64(startRow, n)
		if stopRow != math.MaxUint64 {
			stopRow = max64(stopRow, n)
		}
	}

	firstRnToIndex := uint64(math.MaxUint64)
	if j.indexOffsets {
		firstRnToIndex = offIdx.Size() + 1
	}
	minParserStart := min64(startRow, firstRnToIndex)

	needHash := j.computeHash || len(j.pathNos) > 0

	parser := logparse.NewLogParser(l.rules.Grammar)
	if stopRow != math.MaxUint64 {
		parser.SetMaxRowNo(stopRow)
	}

	var hasher *Hasher
	var seekTo int64 = -1

	// Pick the cheapest resumable state: an offset-index seek when no
	// hashing is required before the start row, else the nearest saved
	// checkpoint, else byte 0.
	var idxSize uint64
	if offIdx != nil {
		idxSize = offIdx.Size()
	}

	if seekRow := min64(minParserStart, idxSize); !needHash && j.useOffsets && seekRow > 1 {
		// Seek to the start of the highest indexed row at or below the
		// target; re-parsing that row (if it is below the target) only
		// replays events the listeners ignore or verify.
		off, err := offIdx.Get(seekRow - 1)
		if err != nil {
			return nil, err
		}
		parser.SetRowNo(seekRow - 1)
		if err := parser.SetLineEndOffset(off); err != nil {
			return nil, err
		}
		seekTo = off
	} else {
		ckpt, ok, err := l.NearestCheckpoint(minParserStart)
		if err != nil {
			return nil, err
		}
		if ok {
			if j.validateCkpt {
				if err := ckpt.Verify(); err != nil {
					return nil, err
				}
			}
			parser.SetRowNo(ckpt.RowNumber() - 1)
			if err := parser.SetLineEndOffset(ckpt.PrevEol); err != nil {
				return nil, err
			}
			seekTo = ckpt.PrevEol
			if needHash {
				hasher = NewHasherFromCheckpoint(ckpt, l.rules.Salt)
			}
		} else if needHash {
			hasher = NewHasher(sldg.EmptyFrontier(), l.rules.Salt)
		}
	}

	// Assemble the listener pipeline. Push order is source gatherer,
	// hasher, offset indexer; dispatch is LIFO, so gatherers see a row
	// after its offset is indexed and hashes fan out from the hasher.
	var srcGatherer *SourceGatherer
	if len(j.srcNos) > 0 {
		srcGatherer = NewSourceGatherer(j.srcNos, l.rules.Salt)
		parser.PushListener(srcGatherer)
	}
	var pathGatherer *PathGatherer
	if hasher != nil {
		if len(j.pathNos) > 0 {
			pathGatherer = NewPathGatherer(j.pathNos)
			hasher.AddRowHashListener(pathGatherer)
		}
		if j.validateCkpt {
			v, err := j.ckptValidator(hasher.Frontier().RowNumber())
			if err != nil {
				return nil, err
			}
			if v != nil {
				hasher.AddRowHashListener(v)
			}
		}
		parser.PushListener(hasher)
	}
	var indexer *OffsetIndexer
	if j.indexOffsets {
		indexer = NewOffsetIndexer(offIdx, j.verifyOffsets)
		parser.PushListener(indexer)
	}

	log, err := os.Open(l.logPath)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer log.Close()
	if seekTo > 0 {
		if _, err := log.Seek(seekTo, 0); err != nil {
			return nil, fmt.Errorf("seeking log: %w", err)
		}
	}

	if err := parser.Parse(log); err != nil {
		return nil, err
	}
	if j.indexOffsets {
		if err := offIdx.Commit(); err != nil {
			return nil, err
		}
	}

	res := &JobResult{}
	if srcGatherer != nil {
		res.Sources = srcGatherer.Rows()
	}
	if indexer != nil {
		res.RowsIndexed = indexer.RowsIndexed()
	}
	if hasher != nil && hasher.Frontier().RowNumber() > 0 {
		state := hasher.ParseState()
		res.State = &state
		res.RowsHashed = hasher.RowsHashed()
	}
	if pathGatherer != nil {
		p, err := pathGatherer.Path()
		if err != nil {
			return nil, err
		}
		res.Path = p
	}

	if j.saveState && res.State != nil {
		if err := l.saveCheckpoint(*res.State, j.overwriteCkpt); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ckptValidator builds the saved-checkpoint expectation map for rows past
// the resume point; nil when there is nothing to cross-check.
func (j *Job) ckptValidator(resumedAt uint64) (*checkpointValidator, error) {
	nos, err := j.lgr.CheckpointNos()
	if err != nil {
		return nil, err
	}
	expected := make(map[uint64]hashing.Hash)
	for _, n := range nos {
		if n <= resumedAt {
			continue
		}
		c, err := j.lgr.LoadCheckpoint(n)
		if err != nil {
			return nil, err
		}
		expected[n] = c.State.FrontierHash()
	}
	if len(expected) == 0 {
		return nil, nil
	}
	return &checkpointValidator{expected: expected}, nil
}

// saveCheckpoint persists c, honoring the overwrite policy when a
// conflicting checkpoint exists at the same row.
func (l *LogLedger) saveCheckpoint(c lglfile.Checkpoint, overwrite bool) error {
	n := c.RowNumber()
	path := lglfile.CheckpointPath(l.dir, l.logName, n)
	if _, statErr := os.Stat(path); statErr == nil {
		existing, err := lglfile.ReadCheckpoint(path)
		if err == nil && existing.State.FrontierHash() == c.State.FrontierHash() &&
			existing.Eol == c.Eol {
			return nil // identical; nothing to do
		}
		if !overwrite {
			if err != nil {
				return fmt.Errorf("refusing to replace unreadable checkpoint at row %d: %w", n, err)
			}
			return fmt.Errorf("%w: conflicting checkpoint at row %d", sldg.ErrHashConflict, n)
		}
	}
	if err := lglfile.WriteCheckpoint(path, c); err != nil {
		return err
	}
	l.ckpts.Set(n, c)
	return nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
