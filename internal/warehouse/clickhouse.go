package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
)

// ClickHouse stores tables as MergeTree tables of Nullable(String) columns.
type ClickHouse struct {
	conn      driver.Conn
	chunkSize int
}

type ClickHouseConfig struct {
	Host      string
	Port      string
	User      string
	Password  string
	Database  string
	ChunkSize int
}

func NewClickHouse(ctx context.Context, cfg ClickHouseConfig, logger *slog.Logger) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouse{conn: conn, chunkSize: cfg.ChunkSize}, nil
}

func chQuote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "\\`") + "`"
}

func chQualified(n Name) string {
	return chQuote(n.Dataset) + "." + chQuote(n.Table)
}

// Write loads t into the named table in batches of the configured chunk size.
func (c *ClickHouse) Write(ctx context.Context, name string, t *table.Table, mode Mode) (int, error) {
	n, err := ParseName(name)
	if err != nil {
		return 0, err
	}
	if len(t.Columns) == 0 {
		return 0, fmt.Errorf("write %s: table has no columns", n)
	}
	qualified := chQualified(n)

	if err := c.conn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+chQuote(n.Dataset)); err != nil {
		return 0, fmt.Errorf("create database %s: %w", n.Dataset, err)
	}
	if mode == Replace {
		if err := c.conn.Exec(ctx, "DROP TABLE IF EXISTS "+qualified); err != nil {
			return 0, fmt.Errorf("drop %s: %w", n, err)
		}
	}

	cols := make([]string, len(t.Columns))
	defs := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = chQuote(col)
		defs[i] = chQuote(col) + " Nullable(String)"
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree ORDER BY tuple()", qualified, strings.Join(defs, ", "))
	if err := c.conn.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("create %s: %w", n, err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s)", qualified, strings.Join(cols, ", "))
	written := 0
	for _, span := range chunks(t.Len(), c.chunkSize) {
		batch, err := c.conn.PrepareBatch(ctx, insert)
		if err != nil {
			return written, fmt.Errorf("prepare batch for %s: %w", n, err)
		}
		for _, row := range t.Rows[span[0]:span[1]] {
			args := make([]any, len(t.Columns))
			for i := range args {
				var v *string
				if i < len(row) {
					v = row[i]
				}
				args[i] = v
			}
			if err := batch.Append(args...); err != nil {
				_ = batch.Abort()
				return written, fmt.Errorf("append to %s: %w", n, err)
			}
		}
		if err := batch.Send(); err != nil {
			return written, fmt.Errorf("send batch to %s: %w", n, err)
		}
		written += span[1] - span[0]
		slog.DebugContext(ctx, "batch sent", "table", n.String(), "rows", written)
	}
	return written, nil
}

// Read returns every row of the named table.
func (c *ClickHouse) Read(ctx context.Context, name string) (*table.Table, error) {
	n, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	rows, err := c.conn.Query(ctx, "SELECT * FROM "+chQualified(n))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", n, err)
	}
	defer rows.Close()

	t := table.New(rows.Columns()...)
	for rows.Next() {
		row := make(table.Row, len(t.Columns))
		dest := make([]any, len(t.Columns))
		for i := range dest {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", n, err)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", n, err)
	}
	return t, nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
