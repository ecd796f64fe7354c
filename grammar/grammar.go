// Package grammar defines how raw log lines are classified and split into
// cells: which bytes delimit tokens, which prefix marks a comment line, and
// whether blank lines are skipped.
package grammar

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrGrammarInvalid is returned when a delimiter set or comment prefix fails
// construction-time validation.
var ErrGrammarInvalid = errors.New("invalid grammar")

// MaxDelimiters and MaxCommentPrefix bound the UTF-8 byte length of the two
// configurable strings. The rules-file layout stores each length in one byte.
const (
	MaxDelimiters    = 32
	MaxCommentPrefix = 32
)

// whitespace is the exact blank-line byte set: space, tab, CR, LF, FF.
const whitespace = " \t\r\n\f"

// Grammar is an immutable tokenization config. The zero value is the default
// grammar: split on whitespace, no comment prefix, keep blank lines.
// Mutators return new values.
type Grammar struct {
	delimiters    string // empty means "any whitespace"
	commentPrefix []byte // nil means "no comment lines"
	skipBlank     bool
}

// New builds a grammar and validates it. delimiters == "" selects whitespace
// tokenization; commentPrefix == "" disables comment matching.
func New(skipBlankLines bool, delimiters, commentPrefix string) (Grammar, error) {
	g := Grammar{
		delimiters: delimiters,
		skipBlank:  skipBlankLines,
	}
	if commentPrefix != "" {
		g.commentPrefix = []byte(commentPrefix)
	}
	if err := g.validate(); err != nil {
		return Grammar{}, err
	}
	return g, nil
}

// validate probes the delimiter set against a synthetic line and rejects
// configurations the tokenizer cannot honor.
func (g Grammar) validate() error {
	if len(g.delimiters) > MaxDelimiters {
		return fmt.Errorf("%w: delimiter set %d bytes exceeds %d", ErrGrammarInvalid, len(g.delimiters), MaxDelimiters)
	}
	if len(g.commentPrefix) > MaxCommentPrefix {
		return fmt.Errorf("%w: comment prefix %d bytes exceeds %d", ErrGrammarInvalid, len(g.commentPrefix), MaxCommentPrefix)
	}
	if bytes.ContainsAny([]byte(g.delimiters), "\n\r") {
		return fmt.Errorf("%w: delimiter set contains a line terminator", ErrGrammarInvalid)
	}

	// Probe: two marker cells separated by every delimiter in the set must
	// tokenize back to exactly the two markers. The markers use bytes that
	// can never be delimiters here (line terminators are rejected above, so
	// \x01/\x02 only collide if configured explicitly).
	const a, b = "\x01", "\x02"
	if g.delimiters != "" && bytes.ContainsAny([]byte(g.delimiters), a+b) {
		return fmt.Errorf("%w: delimiter set contains reserved probe bytes", ErrGrammarInvalid)
	}
	probe := []byte(a + g.delimiters + " " + b + "\n")
	if g.delimiters != "" {
		probe = []byte(a + g.delimiters + b + "\n")
	}
	tokens := g.Tokenize(probe)
	if len(tokens) != 2 || string(tokens[0]) != a || string(tokens[1]) != b {
		return fmt.Errorf("%w: delimiter probe split into %d tokens", ErrGrammarInvalid, len(tokens))
	}
	return nil
}

// SkipBlankLines reports whether blank lines are excluded from row numbering.
func (g Grammar) SkipBlankLines() bool { return g.skipBlank }

// Delimiters returns the configured delimiter set, or "" for whitespace mode.
func (g Grammar) Delimiters() string { return g.delimiters }

// CommentPrefix returns the configured comment prefix, or "" when comment
// matching is off.
func (g Grammar) CommentPrefix() string { return string(g.commentPrefix) }

// WithSkipBlankLines returns a copy with blank-line skipping set to skip.
func (g Grammar) WithSkipBlankLines(skip bool) Grammar {
	g.skipBlank = skip
	return g
}

// WithDelimiters returns a copy using the given delimiter set.
func (g Grammar) WithDelimiters(delimiters string) (Grammar, error) {
	return New(g.skipBlank, delimiters, string(g.commentPrefix))
}

// WithCommentPrefix returns a copy using the given comment prefix.
func (g Grammar) WithCommentPrefix(prefix string) (Grammar, error) {
	return New(g.skipBlank, g.delimiters, prefix)
}

// isDelimiter reports whether c splits tokens under this grammar.
func (g Grammar) isDelimiter(c byte) bool {
	if g.delimiters == "" {
		return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f'
	}
	for i := 0; i < len(g.delimiters); i++ {
		if g.delimiters[i] == c {
			return true
		}
	}
	return false
}

// Tokenize splits a line into cells. The trailing line terminator (LF or
// CRLF) is dropped first; runs of delimiter bytes split the rest, and empty
// tokens are suppressed. The returned slices alias line: callers that retain
// cells past the current dispatch must copy.
func (g Grammar) Tokenize(line []byte) [][]byte {
	line = trimEOL(line)

	var tokens [][]byte
	start := -1
	for i := 0; i < len(line); i++ {
		if g.isDelimiter(line[i]) {
			if start >= 0 {
				tokens = append(tokens, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, line[start:])
	}
	return tokens
}

// MatchesComment reports whether line starts with the comment prefix.
// Pure byte comparison; never allocates.
func (g Grammar) MatchesComment(line []byte) bool {
	if len(g.commentPrefix) == 0 || len(line) < len(g.commentPrefix) {
		return false
	}
	for i, c := range g.commentPrefix {
		if line[i] != c {
			return false
		}
	}
	return true
}

// IsBlank reports whether every byte of line is in the whitespace set.
func IsBlank(line []byte) bool {
	for _, c := range line {
		switch c {
		case ' ', '\t', '\r', '\n', '\f':
		default:
			return false
		}
	}
	return true
}

// trimEOL drops a trailing LF or CRLF.
func trimEOL(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
	}
	return line
}
