// Package logparse layers row semantics on top of raw line events: blank and
// comment lines are classified as skipped per the grammar, every other line
// becomes a ledgered row with a 1-based row number, and a stack of listeners
// observes the classified events.
package logparse

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ChristianF88/lgl/grammar"
	"github.com/ChristianF88/lgl/lineparser"
)

// Listener observes classified line events. Dispatch order across a stack of
// listeners is LIFO: the listener pushed last sees each event first. Line
// buffers are views into the parser's buffer; listeners that retain bytes
// must copy.
type Listener interface {
	// ObserveLineOffset fires for every line, before classification.
	ObserveLineOffset(offset int64, lineNo int64) error
	// ObserveLedgeredLine fires for lines that count as rows.
	ObserveLedgeredLine(rowNo uint64, g grammar.Grammar, offset int64, lineNo int64, line []byte) error
	// ObserveSkippedLine fires for blank and comment lines.
	ObserveSkippedLine(offset int64, lineNo int64, line []byte) error
	// OnParseEnd fires once after the last line, or after a stop.
	OnParseEnd() error
}

// NoopListener implements Listener with no-ops, for embedding.
type NoopListener struct{}

func (NoopListener) ObserveLineOffset(int64, int64) error { return nil }
func (NoopListener) ObserveLedgeredLine(uint64, grammar.Grammar, int64, int64, []byte) error {
	return nil
}
func (NoopListener) ObserveSkippedLine(int64, int64, []byte) error { return nil }
func (NoopListener) OnParseEnd() error                             { return nil }

// LogParser drives a lineparser.Parser and dispatches classified events.
//
// Configuration (row number, max row, listener stack) shares the parse
// mutex: mutator calls block while a parse runs. Stop may be called
// concurrently.
type LogParser struct {
	mu        sync.Mutex
	g         grammar.Grammar
	lines     *lineparser.Parser
	listeners []Listener
	rowNo     uint64
	maxRowNo  uint64
}

// NewLogParser returns a parser for the given grammar with no listeners and
// no row bound.
func NewLogParser(g grammar.Grammar) *LogParser {
	return &LogParser{
		g:        g,
		lines:    lineparser.NewParser(),
		maxRowNo: math.MaxUint64,
	}
}

// Grammar returns the grammar the parser classifies with.
func (p *LogParser) Grammar() grammar.Grammar { return p.g }

// PushListener pushes l onto the dispatch stack. Blocks while a parse runs.
func (p *LogParser) PushListener(l Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// RowNo returns the last row number assigned.
func (p *LogParser) RowNo() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rowNo
}

// SetRowNo seeds the row counter for a resumed parse. Blocks while a parse
// runs.
func (p *LogParser) SetRowNo(n uint64) {
	p.mu.Lock()
	p.rowNo = n
	p.mu.Unlock()
}

// SetMaxRowNo bounds the parse: the parser stops after dispatching row n.
func (p *LogParser) SetMaxRowNo(n uint64) {
	p.mu.Lock()
	p.maxRowNo = n
	p.mu.Unlock()
}

// SetLineNo seeds the line counter for a resumed parse.
func (p *LogParser) SetLineNo(n int64) error { return p.lines.SetLineNo(n) }

// SetLineEndOffset seeds the byte offset for a resumed parse.
func (p *LogParser) SetLineEndOffset(off int64) error { return p.lines.SetLineEndOffset(off) }

// LineEndOffset returns the byte offset one past the last delivered line.
func (p *LogParser) LineEndOffset() int64 { return p.lines.LineEndOffset() }

// Stop requests cooperative termination of a running parse.
func (p *LogParser) Stop() { p.lines.Stop() }

// Parse reads r to EOF (or to maxRowNo, a stop, or an error), dispatching
// events to the listener stack. If the row counter already meets maxRowNo
// the parse returns immediately and no event fires. Otherwise OnParseEnd
// fires exactly once on every non-error return.
func (p *LogParser) Parse(r io.Reader) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rowNo >= p.maxRowNo {
		return nil
	}
	if err := p.lines.Parse(r, (*visitor)(p)); err != nil {
		return err
	}
	for i := len(p.listeners) - 1; i >= 0; i-- {
		if err := p.listeners[i].OnParseEnd(); err != nil {
			return fmt.Errorf("ending parse: %w", err)
		}
	}
	return nil
}

// visitor adapts LogParser to the lineparser callback without exporting it.
// The logparse mutex is already held when these fire.
type visitor LogParser

func (v *visitor) VisitLine(offset int64, lineNo int64, line []byte) error {
	p := (*LogParser)(v)
	for i := len(p.listeners) - 1; i >= 0; i-- {
		if err := p.listeners[i].ObserveLineOffset(offset, lineNo); err != nil {
			return err
		}
	}

	if (p.g.SkipBlankLines() && grammar.IsBlank(line)) || p.g.MatchesComment(line) {
		for i := len(p.listeners) - 1; i >= 0; i-- {
			if err := p.listeners[i].ObserveSkippedLine(offset, lineNo, line); err != nil {
				return err
			}
		}
		return nil
	}

	p.rowNo++
	for i := len(p.listeners) - 1; i >= 0; i-- {
		if err := p.listeners[i].ObserveLedgeredLine(p.rowNo, p.g, offset, lineNo, line); err != nil {
			return err
		}
	}
	if p.rowNo >= p.maxRowNo {
		p.lines.Stop()
	}
	return nil
}
