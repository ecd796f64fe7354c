// Package lineparser turns a byte stream into line events. It is a
// single-pass scanner: lines are delivered as read-only views into the
// parser's buffer together with their starting byte offset and 1-based line
// number.
//
// The protocol requires '\n' terminators. A trailing partial line at EOF is
// not delivered; it is treated as still being written.
package lineparser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const (
	// InitBufferSize is the initial line buffer capacity.
	InitBufferSize = 64 * 1024
	// MaxBufferSize caps buffer growth. A single line longer than this
	// fails the parse.
	MaxBufferSize = 1024 * 1024
)

// ErrLineTooLong is returned when a line exceeds MaxBufferSize.
var ErrLineTooLong = errors.New("line exceeds buffer cap")

// Visitor receives each complete line. The line slice includes the trailing
// '\n' and is only valid for the duration of the call; visitors that retain
// bytes must copy.
type Visitor interface {
	VisitLine(offset int64, lineNo int64, line []byte) error
}

// Parser scans a stream for '\n'-terminated lines.
//
// The bookkeeping mutators (SetLineNo, SetLineEndOffset) and Parse share one
// mutex: calling a mutator while a parse runs blocks until the parse ends.
// Stop is the only method safe to call concurrently with Parse.
type Parser struct {
	mu            sync.Mutex
	lineNo        int64
	lineEndOffset int64
	stopped       atomic.Bool
}

// NewParser returns a parser starting at line 0, offset 0. Use the mutators
// to resume mid-file.
func NewParser() *Parser {
	return &Parser{}
}

// LineNo returns the number of the last line delivered (0 before any).
func (p *Parser) LineNo() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lineNo
}

// SetLineNo adjusts the line counter for a resumed parse. Blocks while a
// parse is running.
func (p *Parser) SetLineNo(n int64) error {
	if n < 0 {
		return fmt.Errorf("line number %d out of range", n)
	}
	p.mu.Lock()
	p.lineNo = n
	p.mu.Unlock()
	return nil
}

// LineEndOffset returns the byte offset one past the last delivered line.
func (p *Parser) LineEndOffset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lineEndOffset
}

// SetLineEndOffset adjusts the offset bookkeeping for a resumed parse.
// Blocks while a parse is running.
func (p *Parser) SetLineEndOffset(off int64) error {
	if off < 0 {
		return fmt.Errorf("line end offset %d out of range", off)
	}
	p.mu.Lock()
	p.lineEndOffset = off
	p.mu.Unlock()
	return nil
}

// Stop requests cooperative termination. The running parse (if any) returns
// after the line event in flight completes. The parser stays stopped until
// the next Parse call resets the flag.
func (p *Parser) Stop() {
	p.stopped.Store(true)
}

// Parse scans r until EOF, a visitor error, a Stop call, or an oversized
// line. The stream is assumed to already be positioned at lineEndOffset;
// the parser only does the bookkeeping.
func (p *Parser) Parse(r io.Reader, v Visitor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped.Store(false)

	buf := make([]byte, InitBufferSize)
	start := 0 // first unconsumed byte
	end := 0   // one past last filled byte
	eof := false

	for {
		// Drain every complete line currently buffered.
		for {
			i := bytes.IndexByte(buf[start:end], '\n')
			if i < 0 {
				break
			}
			line := buf[start : start+i+1]
			start += i + 1
			p.lineNo++
			offset := p.lineEndOffset
			p.lineEndOffset += int64(len(line))
			if err := v.VisitLine(offset, p.lineNo, line); err != nil {
				return err
			}
			if p.stopped.Load() {
				return nil
			}
		}

		if eof {
			// An unterminated tail stays undelivered; the writer has
			// not finished the line yet.
			return nil
		}

		// Compact the consumed prefix, growing up to the cap if a line
		// still doesn't fit.
		if start > 0 {
			copy(buf, buf[start:end])
			end -= start
			start = 0
		} else if end == len(buf) {
			if len(buf) >= MaxBufferSize {
				return fmt.Errorf("%w: line %d exceeds %d bytes", ErrLineTooLong, p.lineNo+1, MaxBufferSize)
			}
			grown := len(buf) * 2
			if grown > MaxBufferSize {
				grown = MaxBufferSize
			}
			next := make([]byte, grown)
			copy(next, buf[:end])
			buf = next
		}

		n, err := r.Read(buf[end:])
		end += n
		if p.stopped.Load() {
			return nil
		}
		if err == io.EOF {
			eof = true
			continue
		}
		if err != nil {
			return fmt.Errorf("reading log stream: %w", err)
		}
	}
}
