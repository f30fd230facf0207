package mysql

import (
	"fmt"
	"strings"
)

// Result is an immutable view over a completed query: the row buffer,
// column metadata, and the statement's affected-row count and last
// insert ID. Cells are raw bytes as sent by the server; a nil cell is
// SQL NULL. For statements without a result set the view has zero rows
// and columns but still carries AffectedRows and InsertID.
type Result struct {
	columns      []string
	columnIndex  map[string]int // lowercased name -> index
	rows         [][][]byte
	affectedRows uint64
	insertID     uint64
}

// newResult snapshots a completed result. The column-name map is
// case-insensitive; on duplicate names the first column wins.
func newResult(columns []string, rows [][][]byte, affectedRows, insertID uint64) *Result {
	idx := make(map[string]int, len(columns))
	for i, name := range columns {
		key := strings.ToLower(name)
		if _, ok := idx[key]; !ok {
			idx[key] = i
		}
	}
	return &Result{
		columns:      columns,
		columnIndex:  idx,
		rows:         rows,
		affectedRows: affectedRows,
		insertID:     insertID,
	}
}

// Len returns the number of rows.
func (r *Result) Len() int { return len(r.rows) }

// NumColumns returns the number of columns.
func (r *Result) NumColumns() int { return len(r.columns) }

// Columns returns the column names in server order.
func (r *Result) Columns() []string { return r.columns }

// ColumnName returns the name of column i. Unchecked: out-of-range
// indices panic.
func (r *Result) ColumnName(i int) string { return r.columns[i] }

// ColumnIndex resolves a column name, case-insensitively, to its
// index. A miss wraps ErrColumnNotFound.
func (r *Result) ColumnIndex(name string) (int, error) {
	if i, ok := r.columnIndex[strings.ToLower(name)]; ok {
		return i, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// Get returns the cell at (row, col), bounds-checked. A nil slice with
// a nil error is SQL NULL.
func (r *Result) Get(row, col int) ([]byte, error) {
	if row < 0 || row >= len(r.rows) || col < 0 || col >= len(r.columns) {
		return nil, fmt.Errorf("%w: row %d col %d", ErrRowIndexOutOfRange, row, col)
	}
	return r.rows[row][col], nil
}

// Value returns the cell at (row, col). Unchecked: out-of-range
// indices panic.
func (r *Result) Value(row, col int) []byte { return r.rows[row][col] }

// IsNull reports whether the cell at (row, col) is SQL NULL.
// Unchecked.
func (r *Result) IsNull(row, col int) bool { return r.rows[row][col] == nil }

// String returns the cell at (row, col) as a string; ok is false for
// SQL NULL. Unchecked.
func (r *Result) String(row, col int) (s string, ok bool) {
	cell := r.rows[row][col]
	if cell == nil {
		return "", false
	}
	return string(cell), true
}

// AffectedRows returns the statement's affected-row count.
func (r *Result) AffectedRows() uint64 { return r.affectedRows }

// InsertID returns the statement's last insert ID.
func (r *Result) InsertID() uint64 { return r.insertID }
