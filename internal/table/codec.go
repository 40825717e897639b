package table

import (
	"errors"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"
)

// Decode maps every row of t onto a record of type T using its csv struct
// tags. Null cells decode as empty strings, so pointer fields stay nil.
// Columns without a matching field are ignored.
func Decode[T any](t *Table) ([]T, error) {
	if len(t.Columns) == 0 {
		return nil, errors.New("decode: table has no columns")
	}
	dec, err := csvutil.NewDecoder(&rowReader{t: t}, t.Columns...)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := make([]T, 0, t.Len())
	for {
		var v T
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode row %d: %w", len(out)+1, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Encode builds a table from typed records; the header comes from the csv tags of T.
func Encode[T any](records []T) (*Table, error) {
	var zero T
	header, err := csvutil.Header(zero, "csv")
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	w := &rowWriter{t: New(header...)}
	enc := csvutil.NewEncoder(w)
	enc.AutoHeader = false
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, fmt.Errorf("encode row %d: %w", i+1, err)
		}
	}
	return w.t, nil
}

// rowReader adapts a Table to csvutil.Reader.
type rowReader struct {
	t   *Table
	pos int
	rec []string
}

func (r *rowReader) Read() ([]string, error) {
	if r.pos >= len(r.t.Rows) {
		return nil, io.EOF
	}
	row := r.t.Rows[r.pos]
	r.pos++
	if r.rec == nil {
		r.rec = make([]string, len(r.t.Columns))
	}
	for i := range r.rec {
		r.rec[i] = ""
		if c := cell(row, i); c != nil {
			r.rec[i] = *c
		}
	}
	return r.rec, nil
}

// rowWriter adapts a Table to csvutil.Writer.
type rowWriter struct {
	t *Table
}

func (w *rowWriter) Write(rec []string) error {
	w.t.Rows = append(w.t.Rows, pad(toRow(rec), len(w.t.Columns)))
	return nil
}
