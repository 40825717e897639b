// Package staging writes cleaned tables to local compressed Parquet files and
// records content-addressed completion markers next to them.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
)

// parallelism passed to parquet-go readers and writers.
const parallelism = 4

// WriteParquet stores t at path as a gzip-compressed Parquet file with one
// optional UTF8 column per table column. The file appears atomically.
func WriteParquet(path string, t *table.Table) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("write parquet %s: table has no columns", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}

	md := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c)
	}
	pw, err := writer.NewCSVWriter(md, fw, parallelism)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_GZIP

	width := len(t.Columns)
	for i, row := range t.Rows {
		rec := make([]*string, width)
		copy(rec, row)
		if err := pw.WriteString(rec); err != nil {
			fw.Close()
			os.Remove(tmp)
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("finish parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ReadParquet loads a Parquet file written by WriteParquet.
func ReadParquet(path string) (*table.Table, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, parallelism)
	if err != nil {
		return nil, fmt.Errorf("parquet reader: %w", err)
	}
	defer pr.ReadStop()

	// Infos[0] is the schema root; ExName keeps the column name as written.
	var columns []string
	for _, info := range pr.SchemaHandler.Infos[1:] {
		columns = append(columns, info.ExName)
	}
	num := pr.GetNumRows()
	t := table.New(columns...)
	t.Rows = make([]table.Row, num)
	for i := range t.Rows {
		t.Rows[i] = make(table.Row, len(columns))
	}

	for ci, name := range columns {
		values, _, _, err := pr.ReadColumnByIndex(int64(ci), num)
		if err != nil {
			return nil, fmt.Errorf("read column %s: %w", name, err)
		}
		if int64(len(values)) != num {
			return nil, fmt.Errorf("column %s: got %d values, want %d", name, len(values), num)
		}
		for ri, v := range values {
			switch s := v.(type) {
			case nil:
			case string:
				t.Rows[ri][ci] = table.Str(s)
			default:
				t.Rows[ri][ci] = table.Str(strings.TrimSpace(fmt.Sprint(s)))
			}
		}
	}
	return t, nil
}
