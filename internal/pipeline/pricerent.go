package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/housing"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/model"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/warehouse"
)

// PriceToRent joins the lease and transaction tables of filename, replaces
// belgium_housing_transactions_rents.<filename> with the result and
// publishes a CSV snapshot of it. It returns the number of joined rows.
func (s *Service) PriceToRent(ctx context.Context, filename string) (int, error) {
	var leases, transactions *table.Table

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		leases, err = s.read(gctx, model.LeaseSourceTable(filename))
		return err
	})
	g.Go(func() error {
		var err error
		transactions, err = s.read(gctx, model.TransactionSourceTable(filename))
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	records, err := housing.PriceToRent(leases, transactions)
	if err != nil {
		return 0, withKind(ErrData, fmt.Errorf("price to rent: %w", err))
	}
	joined, err := table.Encode(records)
	if err != nil {
		return 0, withKind(ErrData, fmt.Errorf("encode: %w", err))
	}
	slog.InfoContext(ctx, "joined prices and rents", "run_id", runIDFrom(ctx), "leases", leases.Len(), "transactions", transactions.Len(), "rows", joined.Len())

	n, err := s.load(ctx, model.PriceRentTable(filename), joined, warehouse.Replace)
	if err != nil {
		return 0, err
	}

	snapshot := filepath.Join(s.settings.DataDir, model.PriceRentDataset, filename+".csv")
	if err := writeSnapshot(snapshot, joined); err != nil {
		return 0, withKind(ErrStorage, fmt.Errorf("snapshot: %w", err))
	}
	if _, err := s.upload(ctx, snapshot, model.PriceRentKeyDepth); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Service) read(ctx context.Context, name string) (*table.Table, error) {
	var t *table.Table
	err := s.task(ctx, "read", func(ctx context.Context) error {
		var err error
		t, err = s.warehouse.Read(ctx, name)
		return err
	})
	if err != nil {
		return nil, withKind(ErrWarehouse, fmt.Errorf("read %s: %w", name, err))
	}
	slog.DebugContext(ctx, "read warehouse table", "run_id", runIDFrom(ctx), "table", name, "rows", t.Len())
	return t, nil
}

func writeSnapshot(path string, t *table.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.WriteCSV(f, ','); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
