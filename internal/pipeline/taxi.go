package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/archive"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/model"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/staging"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/storage"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/warehouse"
)

const stageTaxiParquet = "taxi-parquet"

// TaxiWebToBucket fetches one month of taxi trips, stages it as Parquet
// and uploads it. A staged file with a valid marker skips the fetch.
func (s *Service) TaxiWebToBucket(ctx context.Context, color model.Family, year, month int) error {
	file := model.TaxiFile(color, year, month)
	url := model.ExpandURL(s.settings.TaxiURLTemplate, map[string]string{"color": string(color), "file": file})
	staged := filepath.Join(s.settings.DataDir, file+".parquet")
	inputs := map[string]string{"url": url}

	done, err := staging.Complete(staged, stageTaxiParquet, inputs)
	if err != nil {
		return withKind(ErrStorage, fmt.Errorf("check %s: %w", staged, err))
	}

	if done {
		slog.InfoContext(ctx, "staged file is complete, skipping fetch", "run_id", runIDFrom(ctx), "path", staged)
	} else {
		if err := staging.Invalidate(staged); err != nil {
			return withKind(ErrStorage, fmt.Errorf("invalidate %s: %w", staged, err))
		}
		raw := filepath.Join(s.settings.DataDir, "raw", file+".csv.gz")
		var ok bool
		err := s.task(ctx, "fetch", func(ctx context.Context) error {
			var err error
			ok, err = s.downloader.Fetch(ctx, url, raw, s.settings.FetchTTL)
			return err
		})
		if err != nil {
			return withKind(ErrNetwork, fmt.Errorf("fetch: %w", err))
		}
		if !ok {
			slog.InfoContext(ctx, "source not available, skipping", "run_id", runIDFrom(ctx), "url", url)
			return nil
		}

		t, err := readGzipCSV(raw)
		if err != nil {
			return withKind(ErrData, fmt.Errorf("read %s: %w", raw, err))
		}
		slog.InfoContext(ctx, "read taxi data", "run_id", runIDFrom(ctx), "path", raw, "rows", t.Len(), "columns", len(t.Columns))

		if err := staging.WriteParquet(staged, t); err != nil {
			return withKind(ErrStorage, fmt.Errorf("stage: %w", err))
		}
		if err := staging.Mark(staged, stageTaxiParquet, inputs, runIDFrom(ctx)); err != nil {
			return withKind(ErrStorage, fmt.Errorf("mark: %w", err))
		}
		s.remove(ctx, raw)
	}

	_, err = s.upload(ctx, staged, model.TaxiKeyDepth)
	return err
}

// TaxiBucketToWarehouse loads one staged month into {color}_trips_data.rides
// and returns the number of rows written.
func (s *Service) TaxiBucketToWarehouse(ctx context.Context, color model.Family, year, month int) (int, error) {
	file := model.TaxiFile(color, year, month)
	key := file + ".parquet"
	local := storage.LocalPath(filepath.Join(s.settings.DataDir, "temp"), key)

	found, err := s.retrieve(ctx, key, local)
	if err != nil {
		return 0, err
	}
	if !found {
		slog.InfoContext(ctx, "object not in bucket, skipping", "run_id", runIDFrom(ctx), "key", key)
		return 0, nil
	}
	defer s.remove(ctx, local)

	t, err := staging.ReadParquet(local)
	if err != nil {
		return 0, withKind(ErrData, fmt.Errorf("read %s: %w", local, err))
	}

	if err := fillPassengerCount(ctx, t); err != nil {
		return 0, withKind(ErrData, err)
	}

	return s.load(ctx, model.TaxiTable(color), t, warehouse.Append)
}

func fillPassengerCount(ctx context.Context, t *table.Table) error {
	before, err := t.NullCount("passenger_count")
	if errors.Is(err, table.ErrColumnNotFound) {
		slog.WarnContext(ctx, "passenger_count column missing, leaving data unchanged", "run_id", runIDFrom(ctx))
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := t.FillNull("passenger_count", "0"); err != nil {
		return err
	}
	after, err := t.NullCount("passenger_count")
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "filled missing passenger counts", "run_id", runIDFrom(ctx), "missing_before", before, "missing_after", after)
	return nil
}

func readGzipCSV(path string) (*table.Table, error) {
	rc, err := archive.OpenGzip(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return table.ReadCSV(rc, ',')
}
