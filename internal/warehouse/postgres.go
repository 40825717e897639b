package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
)

// Postgres stores tables as TEXT columns, one schema per dataset, and
// bulk-loads each chunk with COPY.
type Postgres struct {
	db        *sql.DB
	chunkSize int
}

// OpenPostgres connects with a lib/pq DSN and checks the connection.
func OpenPostgres(ctx context.Context, dsn string, chunkSize int) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db, chunkSize), nil
}

func NewPostgres(db *sql.DB, chunkSize int) *Postgres {
	return &Postgres{db: db, chunkSize: chunkSize}
}

func pgQualified(n Name) string {
	return pq.QuoteIdentifier(n.Dataset) + "." + pq.QuoteIdentifier(n.Table)
}

// Write loads t into the named table inside a single transaction.
func (p *Postgres) Write(ctx context.Context, name string, t *table.Table, mode Mode) (int, error) {
	n, err := ParseName(name)
	if err != nil {
		return 0, err
	}
	if len(t.Columns) == 0 {
		return 0, fmt.Errorf("write %s: table has no columns", n)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(n.Dataset)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", n.Dataset, err)
	}
	if mode == Replace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+pgQualified(n)); err != nil {
			return 0, fmt.Errorf("drop %s: %w", n, err)
		}
	}
	defs := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		defs[i] = pq.QuoteIdentifier(col) + " TEXT"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgQualified(n), strings.Join(defs, ", "))); err != nil {
		return 0, fmt.Errorf("create %s: %w", n, err)
	}

	written := 0
	for _, span := range chunks(t.Len(), p.chunkSize) {
		if err := copyChunk(ctx, tx, n, t.Columns, t.Rows[span[0]:span[1]]); err != nil {
			return 0, err
		}
		written += span[1] - span[0]
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", n, err)
	}
	return written, nil
}

func copyChunk(ctx context.Context, tx *sql.Tx, n Name, columns []string, rows []table.Row) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(n.Dataset, n.Table, columns...))
	if err != nil {
		return fmt.Errorf("prepare copy into %s: %w", n, err)
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	for _, row := range rows {
		for i := range args {
			args[i] = nil
			if i < len(row) && row[i] != nil {
				args[i] = *row[i]
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("copy row into %s: %w", n, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush copy into %s: %w", n, err)
	}
	return nil
}

// Read returns every row of the named table.
func (p *Postgres) Read(ctx context.Context, name string) (*table.Table, error) {
	n, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, "SELECT * FROM "+pgQualified(n))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", n, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	t := table.New(cols...)
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range dest {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", n, err)
		}
		row := make(table.Row, len(cols))
		for i, v := range vals {
			if v.Valid {
				row[i] = table.Str(v.String)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", n, err)
	}
	return t, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
