// Package alf implements the ascending-long file backing the row-offset
// index: after the shared artifact header, a dense sequence of 64-bit
// big-endian values that is strictly increasing. Entry i is read by index in
// one pread; appends are buffered until Commit.
//
// The reference layout for this artifact is a delta-compressed block file;
// fixed-width entries were chosen here because the count falls out of the
// file size (crash recovery needs no repair pass) and random access needs no
// block directory. The format is private to this package either way.
package alf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/ChristianF88/lgl/lglfile"
)

const entrySize = 8

// ErrNotAscending is returned when an append would break the strictly
// increasing invariant.
var ErrNotAscending = errors.New("alf value not ascending")

// ErrIndexOutOfRange is returned by Get for an index at or beyond Size.
var ErrIndexOutOfRange = errors.New("alf index out of range")

// File is an open ascending-long file. Not safe for concurrent use; readers
// and the one writer coordinate at the ledger layer.
type File struct {
	f         *os.File
	path      string
	committed uint64  // entries on disk
	last      int64   // highest value (committed or pending); -1 when empty
	pending   []int64 // appended but not yet committed
}

// Open opens path, creating the file with a fresh header when writable and
// absent. Trailing bytes that do not fill an entry are ignored.
func Open(path string, writable bool) (*File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening offsets index: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening offsets index: %w", err)
	}
	a := &File{f: f, path: path, last: -1}
	if info.Size() == 0 {
		if !writable {
			f.Close()
			return nil, fmt.Errorf("%w: %s: empty file", lglfile.ErrBadHeader, path)
		}
		if err := lglfile.WriteHeader(f); err != nil {
			f.Close()
			return nil, err
		}
		return a, nil
	}
	if err := lglfile.ReadHeader(f, path); err != nil {
		f.Close()
		return nil, err
	}
	a.committed = uint64(info.Size()-4) / entrySize
	if a.committed > 0 {
		v, err := a.readEntry(a.committed - 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		a.last = v
	}
	return a, nil
}

// Size returns the entry count, including uncommitted appends.
func (a *File) Size() uint64 {
	return a.committed + uint64(len(a.pending))
}

func (a *File) readEntry(i uint64) (int64, error) {
	var buf [entrySize]byte
	if _, err := a.f.ReadAt(buf[:], 4+int64(i)*entrySize); err != nil {
		return 0, fmt.Errorf("reading offsets entry %d: %w", i, err)
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// Get returns entry i (0-based).
func (a *File) Get(i uint64) (int64, error) {
	switch {
	case i < a.committed:
		return a.readEntry(i)
	case i < a.Size():
		return a.pending[i-a.committed], nil
	default:
		return 0, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, a.Size())
	}
}

// Append buffers value as the next entry. Values must be strictly
// increasing across the whole file.
func (a *File) Append(value int64) error {
	if value <= a.last {
		return fmt.Errorf("%w: %d after %d", ErrNotAscending, value, a.last)
	}
	a.pending = append(a.pending, value)
	a.last = value
	return nil
}

// Commit writes the pending entries in one append and syncs. Without a
// Commit, Close discards them.
func (a *File) Commit() error {
	if len(a.pending) == 0 {
		return nil
	}
	buf := make([]byte, len(a.pending)*entrySize)
	for i, v := range a.pending {
		binary.BigEndian.PutUint64(buf[i*entrySize:], uint64(v))
	}
	if _, err := a.f.WriteAt(buf, 4+int64(a.committed)*entrySize); err != nil {
		return fmt.Errorf("committing offsets index: %w", err)
	}
	if err := a.f.Sync(); err != nil {
		return fmt.Errorf("committing offsets index: %w", err)
	}
	a.committed += uint64(len(a.pending))
	a.pending = a.pending[:0]
	return nil
}

// Truncate discards every entry; used by overwrite rebuilds.
func (a *File) Truncate() error {
	if err := a.f.Truncate(4); err != nil {
		return fmt.Errorf("truncating offsets index: %w", err)
	}
	a.committed = 0
	a.pending = nil
	a.last = -1
	return nil
}

// Close closes the file. Pending uncommitted appends are dropped.
func (a *File) Close() error {
	return a.f.Close()
}
