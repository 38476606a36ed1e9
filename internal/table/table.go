// Package table provides the in-memory tabular snapshot the reconciler
// operates on. Master tables, rosters, session exports, and the overwrite
// side-file are all flat tables of string cells with an ordered column set.
// An empty cell is the null value; upstream exports routinely add or drop
// columns, so cell access never panics on a missing column.
package table

import (
	"fmt"
	"sort"
	"strings"
)

// Row is one record. Missing keys and empty strings both read as null.
type Row map[string]string

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered-column collection of rows.
type Table struct {
	cols []string
	rows []Row
}

// New creates an empty table with the given column order.
func New(cols ...string) *Table {
	t := &Table{}
	for _, c := range cols {
		t.AddColumn(c)
	}
	return t
}

// Columns returns a copy of the column order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.cols))
	copy(out, t.cols)
	return out
}

// HasColumn reports whether the column exists.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.cols {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn appends a column if not already present.
func (t *Table) AddColumn(name string) {
	if name == "" || t.HasColumn(name) {
		return
	}
	t.cols = append(t.cols, name)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row returns the i-th row. The returned map aliases table storage.
func (t *Table) Row(i int) Row { return t.rows[i] }

// Append adds a row and registers any columns it carries that the table
// does not know yet.
func (t *Table) Append(r Row) {
	for k := range r {
		t.AddColumn(k)
	}
	t.rows = append(t.rows, r)
}

// AppendAligned adds a row keeping only cells for existing columns.
// Used when appending human-authored rows that must match a fixed schema.
func (t *Table) AppendAligned(r Row) {
	out := make(Row, len(t.cols))
	for _, c := range t.cols {
		if v, ok := r[c]; ok && v != "" {
			out[c] = v
		}
	}
	t.rows = append(t.rows, out)
}

// Get reads a cell; missing column or row cell reads as "".
func (t *Table) Get(i int, col string) string { return t.rows[i][col] }

// Set writes a cell, registering the column if needed.
func (t *Table) Set(i int, col, val string) {
	t.AddColumn(col)
	t.rows[i][col] = val
}

// Clone deep-copies the table. Phases of a run operate on copies so a
// failing phase never leaves a half-mutated snapshot behind.
func (t *Table) Clone() *Table {
	out := &Table{cols: make([]string, len(t.cols)), rows: make([]Row, len(t.rows))}
	copy(out.cols, t.cols)
	for i, r := range t.rows {
		out.rows[i] = r.Clone()
	}
	return out
}

// Select returns a new table with only the given columns, in that order.
// Fails with *MissingColumnError if any are absent.
func (t *Table) Select(cols []string) (*Table, error) {
	if err := t.Require("table", cols...); err != nil {
		return nil, err
	}
	out := New(cols...)
	for _, r := range t.rows {
		nr := make(Row, len(cols))
		for _, c := range cols {
			if v := r[c]; v != "" {
				nr[c] = v
			}
		}
		out.rows = append(out.rows, nr)
	}
	return out, nil
}

// Filter returns a new table with rows for which keep returns true.
// Rows are shared, not copied.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := &Table{cols: t.Columns()}
	for _, r := range t.rows {
		if keep(r) {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// SortBy stable-sorts rows in place.
func (t *Table) SortBy(less func(a, b Row) bool) {
	sort.SliceStable(t.rows, func(i, j int) bool { return less(t.rows[i], t.rows[j]) })
}

// DropDuplicates returns a new table with one row per key. keepLast selects
// the later occurrence (session beats master on re-runs); otherwise the
// first occurrence wins. Row order follows first appearance of each key.
func (t *Table) DropDuplicates(key func(Row) string, keepLast bool) *Table {
	chosen := make(map[string]Row)
	var order []string
	for _, r := range t.rows {
		k := key(r)
		if _, seen := chosen[k]; !seen {
			order = append(order, k)
			chosen[k] = r
		} else if keepLast {
			chosen[k] = r
		}
	}
	out := &Table{cols: t.Columns()}
	for _, k := range order {
		out.rows = append(out.rows, chosen[k])
	}
	return out
}

// ColumnValues returns all cell values of a column, row order preserved.
func (t *Table) ColumnValues(col string) []string {
	out := make([]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[col]
	}
	return out
}

// Require fails with *MissingColumnError when any named column is absent.
func (t *Table) Require(name string, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnError{Table: name, Columns: missing}
	}
	return nil
}

// MissingColumnError reports required columns absent from an input table.
// Schema problems are fatal for the current file, so callers get the exact
// column names for the per-file error report.
type MissingColumnError struct {
	Table   string
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("table %q missing required columns: %s", e.Table, strings.Join(e.Columns, ", "))
}
