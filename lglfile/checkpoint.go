package lglfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"os"

	"github.com/ChristianF88/lgl/hashing"
	"github.com/ChristianF88/lgl/sldg"
)

// encodeFrontier appends a serialized frontier: bigEndian64(rowNumber)
// followed by the level hashes in level order.
func encodeFrontier(buf []byte, f sldg.Frontier) []byte {
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], f.RowNumber())
	buf = append(buf, be[:]...)
	for _, h := range f.Levels() {
		buf = append(buf, h[:]...)
	}
	return buf
}

// decodeFrontier reads one serialized frontier.
func decodeFrontier(r io.Reader) (sldg.Frontier, error) {
	var be [8]byte
	if _, err := io.ReadFull(r, be[:]); err != nil {
		return sldg.Frontier{}, fmt.Errorf("reading frontier row number: %w", err)
	}
	rowNo := binary.BigEndian.Uint64(be[:])
	if rowNo == 0 {
		return sldg.EmptyFrontier(), nil
	}
	levels := make([]hashing.Hash, bits.Len64(rowNo))
	for l := range levels {
		if _, err := io.ReadFull(r, levels[l][:]); err != nil {
			return sldg.Frontier{}, fmt.Errorf("reading frontier level %d: %w", l, err)
		}
	}
	return sldg.NewFrontier(rowNo, levels)
}

// Checkpoint is a persisted resume point for row N: the pre-frontier
// F(N-1), the input hash I(N), and the line-end offsets of rows N and N-1.
// Everything here is re-derivable from the log bytes up to Eol.
type Checkpoint struct {
	State      sldg.Frontier // F(N)
	PreState   sldg.Frontier // F(N-1)
	InputHash  hashing.Hash  // I(N)
	Eol        int64         // byte offset one past row N's line
	PrevEol    int64         // byte offset one past row N-1's line
}

// RowNumber returns N.
func (c Checkpoint) RowNumber() uint64 { return c.State.RowNumber() }

// Verify recomputes F(N) from the pre-state and input hash and compares it
// against the stored state. A mismatch is a tampered or corrupted file.
func (c Checkpoint) Verify() error {
	advanced := c.PreState.NextFrontier(c.InputHash)
	if advanced.RowNumber() != c.State.RowNumber() ||
		advanced.FrontierHash() != c.State.FrontierHash() {
		return fmt.Errorf("%w: checkpoint state at row %d does not follow from its pre-state",
			sldg.ErrHashConflict, c.State.RowNumber())
	}
	return nil
}

// WriteCheckpoint writes c to path. Layout after the header:
//
//	bigEndian64(eol) | F(N) | F(N-1) | I(N) | bigEndian64(prevEol)
func WriteCheckpoint(path string, c Checkpoint) error {
	buf := make([]byte, 0, 4+8+8+8+64*hashing.HashSize)
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], uint64(c.Eol))
	buf = append(buf, be[:]...)
	buf = encodeFrontier(buf, c.State)
	buf = encodeFrontier(buf, c.PreState)
	buf = append(buf, c.InputHash[:]...)
	binary.BigEndian.PutUint64(be[:], uint64(c.PrevEol))
	buf = append(buf, be[:]...)

	var out bytes.Buffer
	if err := WriteHeader(&out); err != nil {
		return err
	}
	out.Write(buf)
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpoint loads and structurally validates a checkpoint file.
func ReadCheckpoint(path string) (Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if err := ReadHeader(r, path); err != nil {
		return Checkpoint{}, err
	}
	var c Checkpoint
	var be [8]byte
	if _, err := io.ReadFull(r, be[:]); err != nil {
		return Checkpoint{}, fmt.Errorf("reading checkpoint eol: %w", err)
	}
	c.Eol = int64(binary.BigEndian.Uint64(be[:]))
	if c.State, err = decodeFrontier(r); err != nil {
		return Checkpoint{}, err
	}
	if c.PreState, err = decodeFrontier(r); err != nil {
		return Checkpoint{}, err
	}
	if _, err := io.ReadFull(r, c.InputHash[:]); err != nil {
		return Checkpoint{}, fmt.Errorf("reading checkpoint input hash: %w", err)
	}
	if _, err := io.ReadFull(r, be[:]); err != nil {
		return Checkpoint{}, fmt.Errorf("reading checkpoint prev eol: %w", err)
	}
	c.PrevEol = int64(binary.BigEndian.Uint64(be[:]))

	if c.State.RowNumber() != c.PreState.RowNumber()+1 {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint rows %d/%d inconsistent",
			ErrBadHeader, c.State.RowNumber(), c.PreState.RowNumber())
	}
	return c, nil
}
