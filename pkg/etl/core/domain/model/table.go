package model

// Table is the in-memory form of a delimited blob: a header row followed by records.
// Cells are kept verbatim so blobs can be re-emitted with exactly their original columns.
type Table struct {
	Header  []string
	Records [][]string
}

// Len returns the number of records.
func (t Table) Len() int {
	return len(t.Records)
}

// Cell returns the cell at (row, col), or "" when col is out of range (ragged rows, absent columns).
func (t Table) Cell(row, col int) string {
	if col < 0 || col >= len(t.Records[row]) {
		return ""
	}
	return t.Records[row][col]
}
