package lglfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ChristianF88/lgl/grammar"
	"github.com/ChristianF88/lgl/hashing"
)

// Rules is the decoded hashing-rules artifact: the grammar and, when the
// ledger is salted, the 32-byte table-salt seed. Written once at init;
// read-only thereafter.
type Rules struct {
	Grammar grammar.Grammar
	Salt    *hashing.TableSalt // nil when unsalted
}

const (
	flagHasGrammar = 1 << 0
	flagHasSalt    = 1 << 1
)

// encodeGrammarBlock appends the grammar block:
//
//	u8 skipBlankLines | u8 delimitersLen | delimiters | u8 prefixLen | prefix
func encodeGrammarBlock(buf []byte, g grammar.Grammar) []byte {
	skip := byte(0)
	if g.SkipBlankLines() {
		skip = 1
	}
	delims, prefix := g.Delimiters(), g.CommentPrefix()
	buf = append(buf, skip, byte(len(delims)))
	buf = append(buf, delims...)
	buf = append(buf, byte(len(prefix)))
	buf = append(buf, prefix...)
	return buf
}

// decodeGrammarBlock reads a grammar block and reconstructs the grammar,
// revalidating it.
func decodeGrammarBlock(r *bufio.Reader) (grammar.Grammar, error) {
	skip, err := r.ReadByte()
	if err != nil {
		return grammar.Grammar{}, fmt.Errorf("reading grammar block: %w", err)
	}
	readLenPrefixed := func(what string, max int) (string, error) {
		n, err := r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("reading %s length: %w", what, err)
		}
		if int(n) > max {
			return "", fmt.Errorf("%w: %s length %d exceeds %d", ErrBadHeader, what, n, max)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("reading %s: %w", what, err)
		}
		return string(b), nil
	}
	delims, err := readLenPrefixed("token delimiters", grammar.MaxDelimiters)
	if err != nil {
		return grammar.Grammar{}, err
	}
	prefix, err := readLenPrefixed("comment prefix", grammar.MaxCommentPrefix)
	if err != nil {
		return grammar.Grammar{}, err
	}
	return grammar.New(skip != 0, delims, prefix)
}

// WriteRules writes the rules artifact. Fails if the file already exists:
// rules are immutable for the life of a ledger.
func WriteRules(path string, rules Rules) error {
	var out bytes.Buffer
	if err := WriteHeader(&out); err != nil {
		return err
	}
	flags := byte(flagHasGrammar)
	if rules.Salt != nil {
		flags |= flagHasSalt
	}
	out.WriteByte(flags)
	out.Write(encodeGrammarBlock(nil, rules.Grammar))
	if rules.Salt != nil {
		out.Write(rules.Salt.Seed())
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating rules file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(out.Bytes()); err != nil {
		return fmt.Errorf("writing rules file: %w", err)
	}
	return nil
}

// ReadRules loads the rules artifact.
func ReadRules(path string) (Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return Rules{}, fmt.Errorf("opening rules file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if err := ReadHeader(r, path); err != nil {
		return Rules{}, err
	}
	flags, err := r.ReadByte()
	if err != nil {
		return Rules{}, fmt.Errorf("reading rules flags: %w", err)
	}
	var rules Rules
	if flags&flagHasGrammar != 0 {
		if rules.Grammar, err = decodeGrammarBlock(r); err != nil {
			return Rules{}, err
		}
	}
	if flags&flagHasSalt != 0 {
		seed := make([]byte, hashing.SeedSize)
		if _, err := io.ReadFull(r, seed); err != nil {
			return Rules{}, fmt.Errorf("reading salt seed: %w", err)
		}
		if rules.Salt, err = hashing.NewTableSalt(seed); err != nil {
			return Rules{}, err
		}
	}
	return rules, nil
}

// WriteGrammar writes the optional standalone grammar artifact.
func WriteGrammar(path string, g grammar.Grammar) error {
	var out bytes.Buffer
	if err := WriteHeader(&out); err != nil {
		return err
	}
	out.Write(encodeGrammarBlock(nil, g))
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing grammar file: %w", err)
	}
	return nil
}

// ReadGrammar loads the optional standalone grammar artifact.
func ReadGrammar(path string) (grammar.Grammar, error) {
	f, err := os.Open(path)
	if err != nil {
		return grammar.Grammar{}, fmt.Errorf("opening grammar file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	if err := ReadHeader(r, path); err != nil {
		return grammar.Grammar{}, err
	}
	return decodeGrammarBlock(r)
}

// WriteSalt writes the optional standalone salt artifact.
func WriteSalt(path string, salt *hashing.TableSalt) error {
	var out bytes.Buffer
	if err := WriteHeader(&out); err != nil {
		return err
	}
	out.Write(salt.Seed())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating salt file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(out.Bytes()); err != nil {
		return fmt.Errorf("writing salt file: %w", err)
	}
	return nil
}

// ReadSalt loads the optional standalone salt artifact.
func ReadSalt(path string) (*hashing.TableSalt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening salt file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	if err := ReadHeader(r, path); err != nil {
		return nil, err
	}
	seed := make([]byte, hashing.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("reading salt seed: %w", err)
	}
	return hashing.NewTableSalt(seed)
}
