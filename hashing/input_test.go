package hashing

import (
	"bytes"
	cryptosha "crypto/sha256"
	"encoding/binary"
	"testing"
)

// refCellHash is an independent reference for the salted/unsalted cell hash.
func refCellHash(salt *Hash, cell []byte) [32]byte {
	h := cryptosha.New()
	if salt != nil {
		h.Write(salt[:])
	}
	h.Write(cell)
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func TestInputHashUnsalted(t *testing.T) {
	cells := [][]byte{[]byte("alpha"), []byte("beta")}

	ca := refCellHash(nil, cells[0])
	cb := refCellHash(nil, cells[1])
	want := cryptosha.Sum256(append(ca[:], cb[:]...))

	got := InputHash(1, cells, nil)
	if got != Hash(want) {
		t.Errorf("InputHash = %x, want %x", got, want)
	}
}

func TestInputHashNoCells(t *testing.T) {
	if got := InputHash(1, nil, nil); !got.IsSentinel() {
		t.Errorf("empty row should hash to sentinel, got %x", got)
	}
}

// The single-cell shortcut absorbs the cell bytes directly: the input hash
// of a one-cell row is the cell hash itself.
func TestInputHashSingleCellShortcut(t *testing.T) {
	cell := []byte("hello")
	want := refCellHash(nil, cell)
	if got := InputHash(1, [][]byte{cell}, nil); got != Hash(want) {
		t.Errorf("single-cell input hash = %x, want cell hash %x", got, want)
	}
}

// Scenario: seed of 32 0xAA bytes, single line "hello". The derivation
// chain is rowSalt = SHA256(seed || be64(1)), cellSalt = SHA256(rowSalt ||
// be32(0)), I(1) = SHA256(cellSalt || "hello").
func TestInputHashSaltedSingleCell(t *testing.T) {
	seed := bytes.Repeat([]byte{0xAA}, SeedSize)
	salt, err := NewTableSalt(seed)
	if err != nil {
		t.Fatal(err)
	}

	var be8 [8]byte
	binary.BigEndian.PutUint64(be8[:], 1)
	rowSalt := cryptosha.Sum256(append(append([]byte{}, seed...), be8[:]...))
	var be4 [4]byte
	cellSalt := cryptosha.Sum256(append(rowSalt[:], be4[:]...))
	want := cryptosha.Sum256(append(cellSalt[:], []byte("hello")...))

	got := InputHash(1, [][]byte{[]byte("hello")}, salt)
	if got != Hash(want) {
		t.Errorf("salted input hash = %x, want %x", got, want)
	}

	// Bit-identical across runs.
	if again := InputHash(1, [][]byte{[]byte("hello")}, salt); again != got {
		t.Error("salted input hash not deterministic")
	}

	// Any seed change changes the hash.
	seed[13] ^= 0x01
	salt2, err := NewTableSalt(seed)
	if err != nil {
		t.Fatal(err)
	}
	if InputHash(1, [][]byte{[]byte("hello")}, salt2) == got {
		t.Error("flipping a seed bit did not change the input hash")
	}
}

func TestInputHashSaltedMultiCell(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, SeedSize)
	salt, _ := NewTableSalt(seed)
	cells := [][]byte{[]byte("one"), []byte("two"), []byte("three")}

	rowSalt := salt.RowSalt(7)
	var concat []byte
	for i, cell := range cells {
		cs := salt.CellSalt(rowSalt, uint32(i))
		ch := refCellHash(&cs, cell)
		concat = append(concat, ch[:]...)
	}
	want := cryptosha.Sum256(concat)

	if got := InputHash(7, cells, salt); got != Hash(want) {
		t.Errorf("salted multi-cell input hash = %x, want %x", got, want)
	}
}

func TestInputHashDependsOnRowNumberWhenSalted(t *testing.T) {
	salt, _ := NewTableSalt(bytes.Repeat([]byte{0x01}, SeedSize))
	cells := [][]byte{[]byte("same")}
	if InputHash(1, cells, salt) == InputHash(2, cells, salt) {
		t.Error("salted hashes of different rows should differ")
	}
	// Unsalted hashing is row-independent.
	if InputHash(1, cells, nil) != InputHash(2, cells, nil) {
		t.Error("unsalted hashes should not depend on the row number")
	}
}

func TestNewTableSaltRejectsBadSeed(t *testing.T) {
	if _, err := NewTableSalt(make([]byte, 16)); err == nil {
		t.Error("expected error for 16-byte seed")
	}
}

func TestGenerateTableSalt(t *testing.T) {
	a, err := GenerateTableSalt()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateTableSalt()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Seed(), b.Seed()) {
		t.Error("two generated salts should not share a seed")
	}
	if len(a.Seed()) != SeedSize {
		t.Errorf("seed length = %d, want %d", len(a.Seed()), SeedSize)
	}
}

func BenchmarkInputHashUnsalted(b *testing.B) {
	cells := [][]byte{[]byte("198.51.10.21"), []byte("GET"), []byte("/dataset/?test"), []byte("200"), []byte("13984")}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		InputHash(uint64(i+1), cells, nil)
	}
}

func BenchmarkInputHashSalted(b *testing.B) {
	salt, _ := NewTableSalt(bytes.Repeat([]byte{0xAA}, SeedSize))
	cells := [][]byte{[]byte("198.51.10.21"), []byte("GET"), []byte("/dataset/?test"), []byte("200"), []byte("13984")}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		InputHash(uint64(i+1), cells, salt)
	}
}
