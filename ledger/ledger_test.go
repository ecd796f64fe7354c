package ledger

import (
	cryptosha "crypto/sha256"
	"errors"
	"os"
	"testing"

	"github.com/ChristianF88/lgl/sldg"
	"github.com/ChristianF88/lgl/testutil"
)

// sha is shorthand for an independent SHA-256 over concatenated parts.
func sha(parts ...[]byte) []byte {
	h := cryptosha.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// initLedgerForLog initializes an unsalted whitespace-grammar ledger with
// artifacts in a fresh temp dir.
func initLedgerForLog(t *testing.T, logPath string) *LogLedger {
	t.Helper()
	lgr, err := Init(logPath, t.TempDir(), false, "", "", false)
	if err != nil {
		t.Fatal(err)
	}
	return lgr
}

// Scenario: three rows, no salt, whitespace grammar. The expected hashes
// are computed from the definition with crypto/sha256, independent of the
// engine.
func TestThreeRowLogHashes(t *testing.T) {
	logPath := testutil.WriteTempLog(t, "alpha beta\ngamma\ndelta epsilon zeta\n")
	lgr := initLedgerForLog(t, logPath)

	res, err := lgr.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res.State == nil {
		t.Fatal("no parse state")
	}
	if got := res.State.RowNumber(); got != 3 {
		t.Fatalf("row count = %d, want 3", got)
	}

	sentinel := make([]byte, 32)
	i1 := sha(sha([]byte("alpha")), sha([]byte("beta")))
	i2 := sha([]byte("gamma")) // single cell: input hash is the cell hash
	i3 := sha(sha([]byte("delta")), sha([]byte("epsilon")), sha([]byte("zeta")))
	r1 := sha(i1, sentinel)
	r2 := sha(i2, r1, sentinel) // k(2) = 2: links to rows 1 and 0
	r3 := sha(i3, r2)           // k(3) = 1: links to row 2 only

	if got := res.State.State.FrontierHash(); got.Hex() != hex(r3) {
		t.Errorf("R(3) = %s, want %s", got.Hex(), hex(r3))
	}
	if got := res.State.InputHash; got.Hex() != hex(i3) {
		t.Errorf("I(3) = %s, want %s", got.Hex(), hex(i3))
	}
	if res.State.Eol != 36 || res.State.PrevEol != 17 {
		t.Errorf("eol/prevEol = %d/%d, want 36/17", res.State.Eol, res.State.PrevEol)
	}
	if res.RowsHashed != 3 {
		t.Errorf("RowsHashed = %d, want 3", res.RowsHashed)
	}
}

func hex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 2*len(b))
	for i, c := range b {
		out[2*i] = digits[c>>4]
		out[2*i+1] = digits[c&0x0F]
	}
	return string(out)
}

// Hashing the same log twice yields identical frontiers (replay equality),
// and a job re-described identically is idempotent.
func TestFrontierDeterminism(t *testing.T) {
	logPath := testutil.GenerateTestLog(t, 50)
	lgr := initLedgerForLog(t, logPath)

	res1, err := lgr.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	res2, err := lgr.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res1.State.State.FrontierHash() != res2.State.State.FrontierHash() {
		t.Error("same log hashed to different frontiers")
	}
}

func TestJobIsSingleShot(t *testing.T) {
	logPath := testutil.GenerateTestLog(t, 5)
	lgr := initLedgerForLog(t, logPath)
	job := lgr.NewJob().ComputeHash(true)
	if _, err := job.Execute(); err != nil {
		t.Fatal(err)
	}
	if _, err := job.Execute(); !errors.Is(err, ErrJobSpent) {
		t.Errorf("second Execute error = %v, want ErrJobSpent", err)
	}
}

func TestJobRejectsRowZero(t *testing.T) {
	logPath := testutil.GenerateTestLog(t, 5)
	lgr := initLedgerForLog(t, logPath)
	if _, err := lgr.NewJob().AddToPath(0).Execute(); !errors.Is(err, ErrRowOutOfRange) {
		t.Errorf("err = %v, want ErrRowOutOfRange", err)
	}
}

// Scenario: hash rows 1-2 and checkpoint, then resume at row 3 from the
// checkpoint. The resumed frontier must equal the single-pass frontier.
func TestResumeFromCheckpoint(t *testing.T) {
	content := "alpha beta\ngamma\ndelta epsilon zeta\n"

	// Single pass over all three rows.
	oneShot := initLedgerForLog(t, testutil.WriteTempLog(t, content))
	full, err := oneShot.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}

	// Two passes with a checkpoint at row 2.
	logPath := testutil.WriteTempLog(t, content)
	lgr := initLedgerForLog(t, logPath)
	first, err := lgr.NewJob().MaxRowHashed(2).SaveParseState(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if first.State.RowNumber() != 2 {
		t.Fatalf("first pass stopped at row %d, want 2", first.State.RowNumber())
	}
	nos, err := lgr.CheckpointNos()
	if err != nil || len(nos) != 1 || nos[0] != 2 {
		t.Fatalf("checkpoint nos = %v (err %v), want [2]", nos, err)
	}

	second, err := lgr.NewJob().MinRowHashed(3).MaxRowHashed(3).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if second.State.RowNumber() != 3 {
		t.Fatalf("second pass reached row %d, want 3", second.State.RowNumber())
	}
	if second.State.State.FrontierHash() != full.State.State.FrontierHash() {
		t.Error("resumed frontier differs from single-pass frontier")
	}
	// Only row 3 was hashed anew.
	if second.RowsHashed != 1 {
		t.Errorf("RowsHashed = %d, want 1", second.RowsHashed)
	}
}

// A saved checkpoint also survives a façade restart (fresh LogLedger).
func TestResumeAcrossReopen(t *testing.T) {
	logPath := testutil.GenerateTestLog(t, 40)
	dir := t.TempDir()
	lgr, err := Init(logPath, dir, false, "", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lgr.NewJob().MaxRowHashed(17).SaveParseState(true).Execute(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(logPath, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := reopened.NewJob().MinRowHashed(18).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res.State.RowNumber() != 40 {
		t.Fatalf("resumed to row %d, want 40", res.State.RowNumber())
	}
	// Rows 1-17 come from the checkpoint; only rows 18-40 are hashed anew.
	if res.RowsHashed != 23 {
		t.Errorf("RowsHashed = %d, want 23", res.RowsHashed)
	}

	oneShot := initLedgerForLog(t, logPath)
	full, err := oneShot.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res.State.State.FrontierHash() != full.State.State.FrontierHash() {
		t.Error("resumed frontier differs from single-pass frontier")
	}
}

// Tampering with an already-checkpointed prefix surfaces as a hash conflict
// when the checkpoint is re-crossed with validation on, and as a conflicting
// checkpoint on save.
func TestCheckpointConflicts(t *testing.T) {
	logPath := testutil.WriteTempLog(t, "one two\nthree four\nfive six\n")
	lgr := initLedgerForLog(t, logPath)
	if _, err := lgr.NewJob().MaxRowHashed(3).SaveParseState(true).Execute(); err != nil {
		t.Fatal(err)
	}

	// Rewrite the last line in place (same length, different bytes).
	if err := os.WriteFile(logPath, []byte("one two\nthree four\nFIVE six\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fresh, err := Open(logPath, lgr.Dir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fresh.NewJob().ValidateCheckpoints(true).Execute(); !errors.Is(err, sldg.ErrHashConflict) {
		t.Errorf("validateCheckpoints error = %v, want ErrHashConflict", err)
	}

	fresh2, _ := Open(logPath, lgr.Dir(), nil)
	if _, err := fresh2.NewJob().MaxRowHashed(3).SaveParseState(true).Execute(); !errors.Is(err, sldg.ErrHashConflict) {
		t.Errorf("conflicting save error = %v, want ErrHashConflict", err)
	}

	fresh3, _ := Open(logPath, lgr.Dir(), nil)
	if _, err := fresh3.NewJob().MaxRowHashed(3).SaveParseState(true).OverwriteCheckpoints(true).Execute(); err != nil {
		t.Errorf("overwrite save failed: %v", err)
	}
}

// Salted ledgers hash deterministically under their persisted seed, and the
// gathered source rows expose per-cell salts.
func TestSaltedLedger(t *testing.T) {
	logPath := testutil.WriteTempLog(t, "hello\nworld wide\n")
	dir := t.TempDir()
	lgr, err := Init(logPath, dir, false, "", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if !lgr.Salted() {
		t.Fatal("ledger should be salted")
	}

	res1, err := lgr.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(logPath, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	res2, err := reopened.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res1.State.State.FrontierHash() != res2.State.State.FrontierHash() {
		t.Error("salted frontier not stable across reopen")
	}

	// An unsalted ledger over the same bytes hashes differently.
	unsalted := initLedgerForLog(t, logPath)
	res3, err := unsalted.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res3.State.State.FrontierHash() == res1.State.State.FrontierHash() {
		t.Error("salted and unsalted frontiers should differ")
	}

	src, err := reopened.NewJob().AddSourceRow(2, false).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if len(src.Sources) != 1 {
		t.Fatalf("gathered %d source rows, want 1", len(src.Sources))
	}
	row := src.Sources[0]
	if len(row.Cells) != 2 || row.Cells[0].Value != "world" || row.Cells[1].Value != "wide" {
		t.Errorf("cells = %+v", row.Cells)
	}
	for i, cell := range row.Cells {
		if cell.Type != CellTypeString {
			t.Errorf("cell %d type = %s", i, cell.Type)
		}
		if cell.Salt == nil {
			t.Errorf("cell %d missing salt", i)
		}
	}
}

// Scenario: a path job over a larger log. The path connects the requested
// rows to the final state, and the gathered source row agrees with the path
// row's input hash.
func TestPathJob(t *testing.T) {
	const rows = 600
	logPath := testutil.GenerateTestLog(t, rows)
	lgr := initLedgerForLog(t, logPath)

	res, err := lgr.NewJob().
		AddToPath(1).
		AddToPath(rows).
		AddSourceRow(78, true).
		SaveParseState(true).
		Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res.Path == nil {
		t.Fatal("no path gathered")
	}
	if res.Path.Lo() != 1 || res.Path.Hi() != rows {
		t.Errorf("path span = [%d, %d], want [1, %d]", res.Path.Lo(), res.Path.Hi(), rows)
	}
	if !res.Path.HasRow(78) {
		t.Error("path should contain row 78")
	}
	if res.Path.LastHash() != res.State.State.FrontierHash() {
		t.Error("path last hash != parse state frontier hash")
	}
	pr, ok := res.Path.RowByNumber(78)
	if !ok {
		t.Fatal("RowByNumber(78) missing")
	}
	if len(res.Sources) != 1 || res.Sources[0].RowNo != 78 {
		t.Fatalf("sources = %+v", res.Sources)
	}
	if res.Sources[0].InputHash != pr.Input {
		t.Error("source row input hash != path row input hash")
	}
}

// A path job resumed from a checkpoint back-fills the hashes of rows the
// parse never revisits.
func TestPathJobFromCheckpoint(t *testing.T) {
	const rows = 96
	logPath := testutil.GenerateTestLog(t, rows)
	lgr := initLedgerForLog(t, logPath)

	// Full-pass reference path.
	ref, err := lgr.NewJob().AddToPath(90).AddToPath(rows).Execute()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := lgr.NewJob().MaxRowHashed(89).SaveParseState(true).Execute(); err != nil {
		t.Fatal(err)
	}
	res, err := lgr.NewJob().MinRowHashed(90).AddToPath(90).AddToPath(rows).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res.Path.LastHash() != ref.Path.LastHash() {
		t.Error("checkpoint-resumed path diverges from full-pass path")
	}
}

// Grammar rules persisted at init drive later parses: comment and blank
// lines stay unledgered after reopen.
func TestGrammarFromRules(t *testing.T) {
	logPath := testutil.WriteTempLog(t, "# header line\n\none, two\nthree\n")
	dir := t.TempDir()
	if _, err := Init(logPath, dir, true, " ,", "#", false); err != nil {
		t.Fatal(err)
	}
	lgr, err := Open(logPath, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := lgr.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res.State.RowNumber() != 2 {
		t.Errorf("row count = %d, want 2 (comment and blank skipped)", res.State.RowNumber())
	}
}

func TestEmptyLog(t *testing.T) {
	logPath := testutil.WriteTempLog(t, "")
	lgr := initLedgerForLog(t, logPath)
	res, err := lgr.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res.State != nil {
		t.Errorf("empty log produced state %+v", res.State)
	}
	if res.RowsHashed != 0 {
		t.Errorf("RowsHashed = %d", res.RowsHashed)
	}
}

func TestBlankOnlyLogWithSkip(t *testing.T) {
	logPath := testutil.WriteTempLog(t, "\n\n\n")
	dir := t.TempDir()
	lgr, err := Init(logPath, dir, true, "", "", false)
	if err != nil {
		t.Fatal(err)
	}
	res, err := lgr.NewJob().ComputeHash(true).Execute()
	if err != nil {
		t.Fatal(err)
	}
	if res.State != nil {
		t.Error("blank-only log should produce no rows")
	}
}

func TestInitRefusesSecondInit(t *testing.T) {
	logPath := testutil.GenerateTestLog(t, 1)
	dir := t.TempDir()
	if _, err := Init(logPath, dir, false, "", "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := Init(logPath, dir, false, "", "", false); !errors.Is(err, ErrRulesExist) {
		t.Errorf("second init error = %v, want ErrRulesExist", err)
	}
}

func TestNearestCheckpoint(t *testing.T) {
	logPath := testutil.GenerateTestLog(t, 30)
	lgr := initLedgerForLog(t, logPath)
	for _, n := range []uint64{5, 10, 20} {
		if _, err := lgr.NewJob().MaxRowHashed(n).SaveParseState(true).Execute(); err != nil {
			t.Fatal(err)
		}
	}
	tests := []struct {
		n    uint64
		want uint64
		ok   bool
	}{
		{4, 0, false}, {5, 5, true}, {7, 5, true}, {10, 10, true},
		{19, 10, true}, {25, 20, true}, {1 << 40, 20, true},
	}
	for _, tt := range tests {
		c, ok, err := lgr.NearestCheckpoint(tt.n)
		if err != nil {
			t.Fatal(err)
		}
		if ok != tt.ok {
			t.Errorf("NearestCheckpoint(%d) ok = %v, want %v", tt.n, ok, tt.ok)
			continue
		}
		if ok && c.RowNumber() != tt.want {
			t.Errorf("NearestCheckpoint(%d) = row %d, want %d", tt.n, c.RowNumber(), tt.want)
		}
	}

	if c, err := lgr.LoadCheckpoint(10); err != nil || c.RowNumber() != 10 {
		t.Errorf("LoadCheckpoint(10): row %d, err %v", c.RowNumber(), err)
	}
	if _, err := lgr.LoadCheckpoint(11); err == nil {
		t.Error("LoadCheckpoint(11) should fail; none saved")
	}
}
