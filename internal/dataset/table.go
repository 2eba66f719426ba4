// Package dataset holds the in-memory table that extraction jobs map results
// into, plus CSV/XLSX load and save.
package dataset

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultFailMarkers are the cell values treated as a failed extraction.
var DefaultFailMarkers = []string{"", "Error", "no_email_found", "nan", "None"}

// Table is a header plus string rows. Every row is padded to the header width.
// A Table is not safe for concurrent use; the job controller is its only writer.
type Table struct {
	header []string
	rows   [][]string
}

// New builds a table, padding or truncating rows to the header width.
func New(header []string, rows [][]string) *Table {
	t := &Table{header: slices.Clone(header)}
	t.rows = make([][]string, 0, len(rows))
	for _, r := range rows {
		t.rows = append(t.rows, t.fit(r))
	}
	return t
}

func (t *Table) fit(r []string) []string {
	out := make([]string, len(t.header))
	copy(out, r)
	return out
}

// Header returns a copy of the column names.
func (t *Table) Header() []string { return slices.Clone(t.header) }

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	return slices.Index(t.header, name)
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool { return t.ColumnIndex(name) >= 0 }

// Column returns a copy of every value in the named column.
func (t *Table) Column(name string) ([]string, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, eris.Errorf("dataset: column %q not found", name)
	}
	out := make([]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[idx]
	}
	return out, nil
}

// Get returns the value at row/column.
func (t *Table) Get(row int, col string) (string, error) {
	idx, err := t.cell(row, col)
	if err != nil {
		return "", err
	}
	return t.rows[row][idx], nil
}

// Set overwrites the value at row/column.
func (t *Table) Set(row int, col string, value string) error {
	idx, err := t.cell(row, col)
	if err != nil {
		return err
	}
	t.rows[row][idx] = value
	return nil
}

func (t *Table) cell(row int, col string) (int, error) {
	if row < 0 || row >= len(t.rows) {
		return 0, eris.Errorf("dataset: row %d out of range (%d rows)", row, len(t.rows))
	}
	idx := t.ColumnIndex(col)
	if idx < 0 {
		return 0, eris.Errorf("dataset: column %q not found", col)
	}
	return idx, nil
}

// EnsureColumn appends an empty column unless it already exists and returns
// its position.
func (t *Table) EnsureColumn(name string) int {
	if idx := t.ColumnIndex(name); idx >= 0 {
		return idx
	}
	t.header = append(t.header, name)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], "")
	}
	return len(t.header) - 1
}

// Rows returns a deep copy of the data rows.
func (t *Table) Rows() [][]string {
	out := make([][]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = slices.Clone(r)
	}
	return out
}

// Clone returns an independent copy of the table.
func (t *Table) Clone() *Table {
	return &Table{header: t.Header(), rows: t.Rows()}
}

// MergeColumns adds a column holding the named columns joined by a space.
// The new column is named "a+b"; on a clash a numeric suffix is added.
func (t *Table) MergeColumns(cols ...string) (string, error) {
	if len(cols) == 0 {
		return "", eris.New("dataset: merge needs at least one column")
	}
	idxs := make([]int, len(cols))
	for i, c := range cols {
		idx := t.ColumnIndex(c)
		if idx < 0 {
			return "", eris.Errorf("dataset: column %q not found", c)
		}
		idxs[i] = idx
	}

	base := strings.Join(cols, "+")
	name := base
	for n := 1; t.HasColumn(name); n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}

	t.header = append(t.header, name)
	for i, r := range t.rows {
		parts := make([]string, len(idxs))
		for j, idx := range idxs {
			parts[j] = r[idx]
		}
		t.rows[i] = append(r, strings.Join(parts, " "))
	}
	return name, nil
}

// DeleteColumns removes the named columns.
func (t *Table) DeleteColumns(cols ...string) error {
	drop := make(map[int]bool, len(cols))
	for _, c := range cols {
		idx := t.ColumnIndex(c)
		if idx < 0 {
			return eris.Errorf("dataset: column %q not found", c)
		}
		drop[idx] = true
	}

	keep := func(r []string) []string {
		out := make([]string, 0, len(r)-len(drop))
		for i, v := range r {
			if !drop[i] {
				out = append(out, v)
			}
		}
		return out
	}
	t.header = keep(t.header)
	for i, r := range t.rows {
		t.rows[i] = keep(r)
	}
	return nil
}

// MoveColumn swaps the named column with its neighbour. A negative direction
// moves it left, a positive one right. Moving past either edge is a no-op.
func (t *Table) MoveColumn(name string, direction int) error {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return eris.Errorf("dataset: column %q not found", name)
	}
	next := idx + 1
	if direction < 0 {
		next = idx - 1
	}
	if direction == 0 || next < 0 || next >= len(t.header) {
		return nil
	}
	t.header[idx], t.header[next] = t.header[next], t.header[idx]
	for _, r := range t.rows {
		r[idx], r[next] = r[next], r[idx]
	}
	return nil
}

// FailedRows returns a table with the rows whose trimmed value in col is one
// of markers. A nil markers slice uses DefaultFailMarkers.
func (t *Table) FailedRows(col string, markers []string) (*Table, error) {
	idx := t.ColumnIndex(col)
	if idx < 0 {
		return nil, eris.Errorf("dataset: column %q not found", col)
	}
	if markers == nil {
		markers = DefaultFailMarkers
	}

	out := &Table{header: t.Header()}
	for _, r := range t.rows {
		if slices.Contains(markers, strings.TrimSpace(r[idx])) {
			out.rows = append(out.rows, slices.Clone(r))
		}
	}
	return out, nil
}
