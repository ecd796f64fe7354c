// Package chain reads and writes the skip-ledger chain file: a headerless,
// dense stream of 64-byte blocks, one per row. Block i (0-indexed) holds row
// i+1 as the row's input hash followed by its row hash.
package chain

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ChristianF88/lgl/hashing"
	"github.com/ChristianF88/lgl/sldg"
)

// BlockSize is the byte width of one chain block: two 32-byte hashes.
const BlockSize = 2 * hashing.HashSize

// Block is one decoded chain entry.
type Block struct {
	Input hashing.Hash // input hash I(N)
	Row   hashing.Hash // row hash R(N)
}

// File is an open chain file. A single File is either the exclusive writer
// or one of any number of readers; it is not safe for concurrent use.
type File struct {
	f     *os.File
	path  string
	count uint64 // committed blocks; floor(size/64) at open
}

// Open opens (creating if writable and absent) the chain file at path.
//
// A file whose size is not a multiple of the block size is tolerated: the
// trailing partial block was a crash mid-append, it is ignored and the next
// append overwrites it at the block boundary. The file itself is never
// modified on open.
func Open(path string, writable bool) (*File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening chain file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening chain file: %w", err)
	}
	size := info.Size()
	if size%BlockSize != 0 {
		logrus.WithFields(logrus.Fields{
			"file": path,
			"size": size,
		}).Warn("chain file not block aligned; ignoring trailing partial block")
	}
	return &File{f: f, path: path, count: uint64(size) / BlockSize}, nil
}

// Count returns the number of whole blocks, i.e. the highest recorded row
// number.
func (c *File) Count() uint64 { return c.count }

// Block reads block index (0-based). Returns an error wrapping io.EOF when
// index is at or beyond the block count.
func (c *File) Block(index uint64) (Block, error) {
	if index >= c.count {
		return Block{}, fmt.Errorf("chain block %d of %d: %w", index, c.count, io.EOF)
	}
	var buf [BlockSize]byte
	if _, err := c.f.ReadAt(buf[:], int64(index)*BlockSize); err != nil {
		return Block{}, fmt.Errorf("reading chain block %d: %w", index, err)
	}
	return Block{
		Input: hashing.HashFromBytes(buf[:hashing.HashSize]),
		Row:   hashing.HashFromBytes(buf[hashing.HashSize:]),
	}, nil
}

// RowHash returns R(n) for a recorded row n, or the sentinel for n == 0.
func (c *File) RowHash(n uint64) (hashing.Hash, error) {
	if n == 0 {
		return hashing.Sentinel, nil
	}
	b, err := c.Block(n - 1)
	if err != nil {
		return hashing.Hash{}, err
	}
	return b.Row, nil
}

// InputHash returns I(n) for a recorded row n.
func (c *File) InputHash(n uint64) (hashing.Hash, error) {
	b, err := c.Block(n - 1)
	if err != nil {
		return hashing.Hash{}, err
	}
	return b.Input, nil
}

// Append records row n. Rows must arrive in order:
//
//   - n == Count()+1 appends the block;
//   - n > Count()+1 is a row gap and fails with sldg.ErrInvalidState;
//   - n <= Count() is a replay: with verify set, the stored block is read
//     back and compared (sldg.ErrHashConflict on mismatch); without it the
//     event is ignored.
func (c *File) Append(n uint64, input, row hashing.Hash, verify bool) error {
	switch {
	case n == c.count+1:
		var buf [BlockSize]byte
		copy(buf[:hashing.HashSize], input[:])
		copy(buf[hashing.HashSize:], row[:])
		if _, err := c.f.WriteAt(buf[:], int64(c.count)*BlockSize); err != nil {
			return fmt.Errorf("appending chain block for row %d: %w", n, err)
		}
		c.count++
		return nil
	case n > c.count+1:
		return fmt.Errorf("%w: row %d skipped past %d recorded blocks", sldg.ErrInvalidState, n, c.count)
	default:
		if !verify {
			return nil
		}
		stored, err := c.Block(n - 1)
		if err != nil {
			return err
		}
		if stored.Input != input {
			return fmt.Errorf("%w: input hash of row %d (block %d)", sldg.ErrHashConflict, n, n-1)
		}
		if stored.Row != row {
			return fmt.Errorf("%w: row hash of row %d (block %d)", sldg.ErrHashConflict, n, n-1)
		}
		return nil
	}
}

// Truncate discards all blocks; used by overwrite rebuilds.
func (c *File) Truncate() error {
	if err := c.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating chain file: %w", err)
	}
	c.count = 0
	return nil
}

// Frontier reconstructs the hash frontier at the last recorded row.
func (c *File) Frontier() (sldg.Frontier, error) {
	return c.FrontierAt(c.count)
}

// FrontierAt reconstructs the hash frontier at recorded row n by random
// access into the chain file: level l of F(n) is the row hash at n with its
// low l bits cleared.
func (c *File) FrontierAt(n uint64) (sldg.Frontier, error) {
	if n > c.count {
		return sldg.Frontier{}, fmt.Errorf("frontier at row %d beyond %d recorded blocks", n, c.count)
	}
	if n == 0 {
		return sldg.EmptyFrontier(), nil
	}
	var levels []hashing.Hash
	for l := 0; ; l++ {
		row := n &^ (1<<uint(l) - 1)
		if row == 0 {
			break
		}
		rh, err := c.RowHash(row)
		if err != nil {
			return sldg.Frontier{}, err
		}
		levels = append(levels, rh)
	}
	return sldg.NewFrontier(n, levels)
}

// Sync flushes the file to stable storage.
func (c *File) Sync() error {
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("syncing chain file: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (c *File) Close() error {
	return c.f.Close()
}

// ErrNoChain is returned by loaders when no chain file exists yet.
var ErrNoChain = errors.New("no chain file")
