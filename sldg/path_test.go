package sldg

import (
	"encoding/json"
	"errors"
	"testing"
)

// buildRefPath assembles a path over the stitched rows of targets from a
// reference ledger.
func buildRefPath(t *testing.T, ref *refLedger, targets []uint64) *Path {
	t.Helper()
	stitched := Stitch(targets)
	rows := make([]PathRow, len(stitched))
	for i, n := range stitched {
		rows[i] = ref.pathRow(n)
	}
	p, err := NewPath(rows)
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}
	return p
}

func TestPathRoundTrip(t *testing.T) {
	ref := newRefLedger(128)
	p := buildRefPath(t, ref, []uint64{1, 78, 128})

	if p.Lo() != 1 || p.Hi() != 128 {
		t.Errorf("span = [%d, %d], want [1, 128]", p.Lo(), p.Hi())
	}
	if !p.HasRow(78) {
		t.Error("path should contain row 78")
	}
	if p.HasRow(77) {
		t.Error("row 77 is not a stitch target or skip-path row here")
	}
	if p.LastHash() != ref.row(128) {
		t.Error("re-hashed last row diverges from the ledger")
	}
	r, ok := p.RowByNumber(78)
	if !ok || r.Input != ref.input(78) {
		t.Error("RowByNumber(78) lost the input hash")
	}
	if p.Last().RowNo != 128 {
		t.Errorf("Last().RowNo = %d", p.Last().RowNo)
	}
}

func TestPathSingleRow(t *testing.T) {
	ref := newRefLedger(1)
	p := buildRefPath(t, ref, []uint64{1})
	if p.Lo() != 1 || p.Hi() != 1 {
		t.Errorf("span = [%d, %d]", p.Lo(), p.Hi())
	}
	// Row 1's only pointer is the sentinel.
	if !p.Last().PtrHash(0).IsSentinel() {
		t.Error("row 1 pointer should be the sentinel")
	}
}

func TestPathRejectsTampering(t *testing.T) {
	ref := newRefLedger(64)
	stitched := Stitch([]uint64{5, 64})
	rows := make([]PathRow, len(stitched))
	for i, n := range stitched {
		rows[i] = ref.pathRow(n)
	}

	// Flip one bit of a middle row's input hash: some later row's pointer
	// no longer matches the recomputed hash.
	tampered := make([]PathRow, len(rows))
	copy(tampered, rows)
	mid := tampered[len(tampered)/2]
	in := mid.Input
	in[0] ^= 0x80
	mid.Input = in
	tampered[len(tampered)/2] = mid

	if _, err := NewPath(tampered); !errors.Is(err, ErrPathBroken) {
		t.Errorf("tampered path error = %v, want ErrPathBroken", err)
	}
}

// Path rows survive a JSON round trip: hashes as hex strings, pointers in
// level order. This is the wire shape proofs are exported in.
func TestPathRowJSONRoundTrip(t *testing.T) {
	ref := newRefLedger(8)
	row := ref.pathRow(8)
	data, err := json.Marshal(row)
	if err != nil {
		t.Fatal(err)
	}
	var back PathRow
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.RowNo != 8 || back.Input != row.Input || len(back.Ptrs) != len(row.Ptrs) {
		t.Fatalf("round trip changed the row: %+v", back)
	}
	for i := range row.Ptrs {
		if back.Ptrs[i] != row.Ptrs[i] {
			t.Errorf("pointer %d changed", i)
		}
	}
	if back.Hash() != row.Hash() {
		t.Error("round trip changed the row hash")
	}
}

func TestPathRejectsStructuralErrors(t *testing.T) {
	ref := newRefLedger(16)

	if _, err := NewPath(nil); !errors.Is(err, ErrPathBroken) {
		t.Error("empty path should fail")
	}

	// Not ascending.
	rows := []PathRow{ref.pathRow(4), ref.pathRow(2)}
	if _, err := NewPath(rows); !errors.Is(err, ErrPathBroken) {
		t.Error("descending rows should fail")
	}

	// Rows 5 and 16 are not directly linked.
	rows = []PathRow{ref.pathRow(5), ref.pathRow(16)}
	if _, err := NewPath(rows); !errors.Is(err, ErrPathBroken) {
		t.Error("unlinked rows should fail")
	}

	// Wrong pointer count.
	bad := ref.pathRow(8)
	bad.Ptrs = bad.Ptrs[:2]
	if _, err := NewPath([]PathRow{bad}); !errors.Is(err, ErrPathBroken) {
		t.Error("truncated pointers should fail")
	}

	// Row 0 is abstract and may not appear.
	if _, err := NewPath([]PathRow{{RowNo: 0}}); !errors.Is(err, ErrPathBroken) {
		t.Error("row 0 should fail")
	}
}
