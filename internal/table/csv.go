package table

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// DefaultChunkSize is the number of rows Prefilter holds in memory at once.
const DefaultChunkSize = 10000

var nullTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"NULL": {},
	"#N/A": {},
}

// IsNullToken reports whether a raw CSV value denotes a missing value.
func IsNullToken(s string) bool {
	_, ok := nullTokens[strings.TrimSpace(s)]
	return ok
}

func newReader(r io.Reader, sep rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return cr
}

func toRow(record []string) Row {
	row := make(Row, len(record))
	for i, v := range record {
		if !IsNullToken(v) {
			row[i] = Str(v)
		}
	}
	return row
}

// ReadCSV reads a whole delimited file into a table. The first record is the header.
func ReadCSV(r io.Reader, sep rune) (*Table, error) {
	cr := newReader(r, sep)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv: missing header")
		}
		return nil, fmt.Errorf("csv header: %w", err)
	}
	t := New(trimBOM(header)...)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", t.Len()+1, err)
		}
		if len(rec) > len(t.Columns) {
			return nil, fmt.Errorf("csv row %d: %w", t.Len()+1, &ErrRowTooWide{Fields: len(rec), Columns: len(t.Columns)})
		}
		t.Rows = append(t.Rows, pad(toRow(rec), len(t.Columns)))
	}
	return t, nil
}

// WriteCSV writes the header and every row; nulls become empty cells.
func (t *Table) WriteCSV(w io.Writer, sep rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = sep
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := writeRows(cw, t.Rows, len(t.Columns)); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func writeRows(cw *csv.Writer, rows []Row, width int) error {
	rec := make([]string, width)
	for _, r := range rows {
		for i := range rec {
			rec[i] = ""
			if c := cell(r, i); c != nil {
				rec[i] = *c
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// PrefilterOptions configures Prefilter.
type PrefilterOptions struct {
	Sep       rune
	ChunkSize int
	// TextColumns are identifier columns normalized to plain text.
	TextColumns []string
}

// PrefilterStats reports what Prefilter read and kept.
type PrefilterStats struct {
	RowsIn  int
	RowsOut int
	Chunks  int
}

// Prefilter streams a delimited file from r to w in fixed-size chunks,
// dropping every row that has a null cell or too many fields and
// normalizing identifier columns. The header is written once. Column values are otherwise copied
// unchanged.
func Prefilter(ctx context.Context, r io.Reader, w io.Writer, opts PrefilterOptions) (PrefilterStats, error) {
	var stats PrefilterStats
	if opts.Sep == 0 {
		opts.Sep = ','
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	cr := newReader(r, opts.Sep)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stats, errors.New("prefilter: missing header")
		}
		return stats, fmt.Errorf("prefilter header: %w", err)
	}
	header = trimBOM(append([]string(nil), header...))
	width := len(header)

	var textIdx []int
	for _, name := range opts.TextColumns {
		idx := indexOf(header, name)
		if idx < 0 {
			slog.WarnContext(ctx, "column not present, skipping text coercion", "column", name)
			continue
		}
		textIdx = append(textIdx, idx)
	}

	cw := csv.NewWriter(w)
	cw.Comma = opts.Sep
	if err := cw.Write(header); err != nil {
		return stats, err
	}

	chunk := make([]Row, 0, opts.ChunkSize)
	flush := func() error {
		kept := (&Table{Columns: header, Rows: chunk}).DropNulls().Rows
		for _, row := range kept {
			for _, idx := range textIdx {
				row[idx] = Str(normalizeText(*row[idx]))
			}
		}
		if err := writeRows(cw, kept, width); err != nil {
			return err
		}
		cw.Flush()
		stats.RowsOut += len(kept)
		stats.Chunks++
		chunk = chunk[:0]
		return cw.Error()
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("prefilter row %d: %w", stats.RowsIn+1, err)
		}
		stats.RowsIn++
		chunk = append(chunk, toRow(rec))
		if len(chunk) == opts.ChunkSize {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if len(chunk) > 0 {
		if err := flush(); err != nil {
			return stats, err
		}
	}
	cw.Flush()
	return stats, cw.Error()
}

// normalizeText trims whitespace and turns float-formatted integers such as
// "11001.0" back into "11001".
func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	if whole, frac, ok := strings.Cut(s, "."); ok && whole != "" && strings.Trim(frac, "0") == "" && isDigits(whole) {
		return whole
	}
	return s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func trimBOM(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header
}
