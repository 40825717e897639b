// Package table holds an in-memory tabular representation with nullable
// text cells, shared by the staging, warehouse and transform layers.
package table

import (
	"errors"
	"fmt"
	"strings"
)

var ErrColumnNotFound = errors.New("column not found")

// ErrRowTooWide reports a record with more fields than the header.
type ErrRowTooWide struct {
	Fields  int
	Columns int
}

func (e *ErrRowTooWide) Error() string {
	return fmt.Sprintf("%d fields, header has %d columns", e.Fields, e.Columns)
}

// Row is one record; a nil cell is null.
type Row []*string

// Table is a named-column set of rows.
type Table struct {
	Columns []string
	Rows    []Row
}

// Str returns a non-null cell holding s.
func Str(s string) *string {
	return &s
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of column name or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Append adds a row built from plain values; empty strings become null.
func (t *Table) Append(values ...string) {
	row := make(Row, len(t.Columns))
	for i := range row {
		if i < len(values) && values[i] != "" {
			row[i] = Str(values[i])
		}
	}
	t.Rows = append(t.Rows, row)
}

// Column returns the cells of column name.
func (t *Table) Column(name string) ([]*string, error) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	out := make([]*string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = cell(r, idx)
	}
	return out, nil
}

// NullCount counts null cells in column name.
func (t *Table) NullCount(name string) (int, error) {
	cells, err := t.Column(name)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range cells {
		if c == nil {
			n++
		}
	}
	return n, nil
}

// DropNulls returns a table without any row that has a null cell or more
// fields than there are columns.
func (t *Table) DropNulls() *Table {
	out := New(t.Columns...)
	for _, r := range t.Rows {
		if !hasNull(r, len(t.Columns)) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// FillNull replaces nulls in column name with value in place and returns the
// number of cells filled.
func (t *Table) FillNull(name, value string) (int, error) {
	idx := t.Index(name)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	filled := 0
	for i, r := range t.Rows {
		if cell(r, idx) == nil {
			r = pad(r, len(t.Columns))
			r[idx] = Str(value)
			t.Rows[i] = r
			filled++
		}
	}
	return filled, nil
}

// Where returns the rows whose column name equals value.
func (t *Table) Where(name, value string) (*Table, error) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	out := New(t.Columns...)
	for _, r := range t.Rows {
		if c := cell(r, idx); c != nil && *c == value {
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

// WithColumn sets column name to value on every row, adding the column if needed.
func (t *Table) WithColumn(name, value string) *Table {
	idx := t.Index(name)
	cols := t.Columns
	if idx < 0 {
		cols = append(append([]string(nil), t.Columns...), name)
		idx = len(cols) - 1
	}
	out := &Table{Columns: cols, Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		nr := pad(append(Row(nil), r...), len(cols))
		nr[idx] = Str(value)
		out.Rows[i] = nr
	}
	return out
}

// Distinct drops duplicate rows keeping the first occurrence.
func (t *Table) Distinct() *Table {
	out := New(t.Columns...)
	seen := make(map[string]struct{}, len(t.Rows))
	for _, r := range t.Rows {
		k := rowKey(r, len(t.Columns))
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out.Rows = append(out.Rows, r)
	}
	return out
}

func cell(r Row, idx int) *string {
	if idx >= len(r) {
		return nil
	}
	return r[idx]
}

func pad(r Row, n int) Row {
	for len(r) < n {
		r = append(r, nil)
	}
	return r
}

// hasNull also reports over-wide rows, which cannot be aligned to the header.
func hasNull(r Row, width int) bool {
	if len(r) != width {
		return true
	}
	for _, c := range r[:width] {
		if c == nil {
			return true
		}
	}
	return false
}

func rowKey(r Row, width int) string {
	var b strings.Builder
	for i := 0; i < width; i++ {
		if c := cell(r, i); c != nil {
			b.WriteByte('v')
			b.WriteString(*c)
		} else {
			b.WriteByte('n')
		}
		b.WriteByte(0)
	}
	return b.String()
}
