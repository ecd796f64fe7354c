package hashing

// InputHash computes the input hash of row rowNo from its tokenized cells.
//
// Unsalted, each cell hashes to SHA256(cell) and the row digest is SHA-256
// over the concatenated cell hashes. Salted, each cell hash is prefixed with
// its derived cell salt. A single-cell row skips the intermediate cell-hash
// layer: the row digest absorbs the optional salt and the cell bytes
// directly, so it is the cell hash itself, not a digest over that cell hash.
// Zero cells hash to the sentinel.
func InputHash(rowNo uint64, cells [][]byte, salt *TableSalt) Hash {
	switch len(cells) {
	case 0:
		return Sentinel
	case 1:
		if salt == nil {
			return Sum(cells[0])
		}
		cellSalt := salt.CellSalt(salt.RowSalt(rowNo), 0)
		return Sum(cellSalt[:], cells[0])
	}

	// 32 bytes per cell hash, concatenated in column order.
	buf := make([]byte, 0, len(cells)*HashSize)
	if salt == nil {
		for _, cell := range cells {
			ch := Sum(cell)
			buf = append(buf, ch[:]...)
		}
	} else {
		rowSalt := salt.RowSalt(rowNo)
		for col, cell := range cells {
			cellSalt := salt.CellSalt(rowSalt, uint32(col))
			ch := Sum(cellSalt[:], cell)
			buf = append(buf, ch[:]...)
		}
	}
	return Sum(buf)
}
