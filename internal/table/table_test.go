package table

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

func TestReadCSV_NullTokens(t *testing.T) {
	in := "a;b;c\n1;;x\nNA;2;y\n3;4;z\n"
	tbl, err := ReadCSV(strings.NewReader(in), ';')
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if tbl.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.Len())
	}
	if n, _ := tbl.NullCount("a"); n != 1 {
		t.Errorf("NullCount(a) = %d, want 1", n)
	}
	if n, _ := tbl.NullCount("b"); n != 1 {
		t.Errorf("NullCount(b) = %d, want 1", n)
	}
	if _, err := tbl.NullCount("missing"); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("expected ErrColumnNotFound, got %v", err)
	}
	if got := tbl.DropNulls().Len(); got != 1 {
		t.Errorf("DropNulls().Len() = %d, want 1", got)
	}
}

func TestReadCSV_Empty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader(""), ','); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	tbl := New("id", "name")
	tbl.Append("1", "alpha")
	tbl.Append("2", "")

	var buf bytes.Buffer
	if err := tbl.WriteCSV(&buf, ','); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if got, want := buf.String(), "id,name\n1,alpha\n2,\n"; got != want {
		t.Fatalf("WriteCSV() = %q, want %q", got, want)
	}
}

func TestFillNull(t *testing.T) {
	tbl := New("VendorID", "passenger_count")
	tbl.Append("1", "2")
	tbl.Append("2", "")
	tbl.Append("1", "")

	filled, err := tbl.FillNull("passenger_count", "0")
	if err != nil {
		t.Fatalf("FillNull() error = %v", err)
	}
	if filled != 2 {
		t.Fatalf("filled = %d, want 2", filled)
	}
	if n, _ := tbl.NullCount("passenger_count"); n != 0 {
		t.Fatalf("NullCount after fill = %d, want 0", n)
	}
	if _, err := tbl.FillNull("nope", "0"); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
}

func TestWhereWithColumnDistinct(t *testing.T) {
	tbl := New("ParcelNature", "Price")
	tbl.Append("200", "10")
	tbl.Append("300", "20")
	tbl.Append("200", "10")

	houses, err := tbl.Where("ParcelNature", "200")
	if err != nil {
		t.Fatalf("Where() error = %v", err)
	}
	if houses.Len() != 2 {
		t.Fatalf("Where().Len() = %d, want 2", houses.Len())
	}
	if got := houses.Distinct().Len(); got != 1 {
		t.Fatalf("Distinct().Len() = %d, want 1", got)
	}

	dated := houses.WithColumn("Date", "2019-03-31")
	if dated.Index("Date") != 2 {
		t.Fatalf("expected Date as third column, got %v", dated.Columns)
	}
	col, _ := dated.Column("Date")
	for _, c := range col {
		if c == nil || *c != "2019-03-31" {
			t.Fatalf("unexpected Date cell %v", c)
		}
	}
	if houses.Index("Date") != -1 {
		t.Fatal("WithColumn must not modify the source table")
	}
}

func TestPrefilter_DropsNullRows(t *testing.T) {
	in := strings.Join([]string{
		"NISCode;NameFre;ParcelNature;PriceP50",
		"11001.0;Aartselaar;200;250000",
		"11002;;200;260000",
		"11003;Anvers;200;NaN",
		"11004; Boechout ;300;270000",
		"11005;Boom",
	}, "\n") + "\n"

	var out bytes.Buffer
	stats, err := Prefilter(context.Background(), strings.NewReader(in), &out, PrefilterOptions{
		Sep:         ';',
		ChunkSize:   2,
		TextColumns: []string{"NISCode", "NameFre", "ParcelNature", "TransactionType"},
	})
	if err != nil {
		t.Fatalf("Prefilter() error = %v", err)
	}
	if stats.RowsIn != 5 || stats.RowsOut != 2 || stats.Chunks != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	want := "NISCode;NameFre;ParcelNature;PriceP50\n11001;Aartselaar;200;250000\n11004;Boechout;300;270000\n"
	if out.String() != want {
		t.Fatalf("Prefilter() output = %q, want %q", out.String(), want)
	}
}

func TestPrefilter_DropsOverWideRows(t *testing.T) {
	in := "NISCode;PriceP50\n11001;250000\n11002;260000;extra\n11003;270000;\n"

	var out bytes.Buffer
	stats, err := Prefilter(context.Background(), strings.NewReader(in), &out, PrefilterOptions{Sep: ';'})
	if err != nil {
		t.Fatalf("Prefilter() error = %v", err)
	}
	if stats.RowsIn != 3 || stats.RowsOut != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if want := "NISCode;PriceP50\n11001;250000\n"; out.String() != want {
		t.Fatalf("Prefilter() output = %q, want %q", out.String(), want)
	}
}

func TestReadCSV_RejectsOverWideRow(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b\n1,2\n3,4,5\n"), ',')
	var wide *ErrRowTooWide
	if !errors.As(err, &wide) {
		t.Fatalf("expected ErrRowTooWide, got %v", err)
	}
	if wide.Fields != 3 || wide.Columns != 2 {
		t.Fatalf("unexpected error %+v", wide)
	}
	if !strings.Contains(err.Error(), "csv row 2") {
		t.Fatalf("expected the row number in %q", err.Error())
	}
}

func TestDropNulls_OverWideRow(t *testing.T) {
	tbl := New("a", "b")
	tbl.Append("1", "2")
	tbl.Rows = append(tbl.Rows, Row{Str("3"), Str("4"), Str("5")})
	if got := tbl.DropNulls().Len(); got != 1 {
		t.Fatalf("DropNulls().Len() = %d, want 1", got)
	}
}

func TestPrefilter_HeaderOnly(t *testing.T) {
	var out bytes.Buffer
	stats, err := Prefilter(context.Background(), strings.NewReader("a,b\n"), &out, PrefilterOptions{})
	if err != nil {
		t.Fatalf("Prefilter() error = %v", err)
	}
	if stats.RowsIn != 0 || stats.RowsOut != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if out.String() != "a,b\n" {
		t.Fatalf("expected header only, got %q", out.String())
	}
}

func TestPrefilter_NullFractions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, fraction := range []float64{0, 0.1, 0.5, 0.9, 1} {
		t.Run(fmt.Sprintf("%.1f", fraction), func(t *testing.T) {
			var in strings.Builder
			in.WriteString("a,b,c\n")
			total, withNull := 2500, 0
			for i := 0; i < total; i++ {
				b := fmt.Sprint(i)
				if rng.Float64() < fraction {
					b = ""
					withNull++
				}
				fmt.Fprintf(&in, "%d,%s,x\n", i, b)
			}

			var out bytes.Buffer
			stats, err := Prefilter(context.Background(), strings.NewReader(in.String()), &out, PrefilterOptions{ChunkSize: 1000})
			if err != nil {
				t.Fatalf("Prefilter() error = %v", err)
			}
			if stats.RowsOut != total-withNull {
				t.Fatalf("RowsOut = %d, want %d", stats.RowsOut, total-withNull)
			}

			got, err := ReadCSV(&out, ',')
			if err != nil {
				t.Fatalf("ReadCSV() error = %v", err)
			}
			if got.Len() != total-withNull {
				t.Fatalf("output rows = %d, want %d", got.Len(), total-withNull)
			}
			for _, col := range got.Columns {
				if n, _ := got.NullCount(col); n != 0 {
					t.Fatalf("column %s has %d nulls", col, n)
				}
			}
		})
	}
}

func TestPrefilter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := "a\n1\n2\n3\n"
	_, err := Prefilter(ctx, strings.NewReader(in), &bytes.Buffer{}, PrefilterOptions{ChunkSize: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type record struct {
	ID    string   `csv:"id"`
	Value *float64 `csv:"value"`
}

func TestDecodeEncode(t *testing.T) {
	tbl := New("id", "value", "extra")
	tbl.Append("a", "1.5", "ignored")
	tbl.Append("b", "", "ignored")

	recs, err := Decode[record](tbl)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Value == nil || *recs[0].Value != 1.5 {
		t.Fatalf("unexpected first value %v", recs[0].Value)
	}
	if recs[1].Value != nil {
		t.Fatalf("expected nil value for null cell, got %v", *recs[1].Value)
	}

	back, err := Encode(recs)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if strings.Join(back.Columns, ",") != "id,value" {
		t.Fatalf("unexpected columns %v", back.Columns)
	}
	if n, _ := back.NullCount("value"); n != 1 {
		t.Fatalf("expected one null value, got %d", n)
	}
}

func TestEncode_Empty(t *testing.T) {
	back, err := Encode([]record{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if back.Len() != 0 || len(back.Columns) != 2 {
		t.Fatalf("unexpected table %+v", back)
	}
}
