package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/archive"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/housing"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/model"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/staging"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/storage"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/warehouse"
)

const (
	stageHousingParquet  = "housing-parquet"
	stageHousingSnapshot = "housing-snapshot"
)

func (s *Service) housingURL(action model.ActionType, date string) (string, error) {
	template := s.settings.TransactionsURLTemplate
	if action == model.Leases {
		template = s.settings.LeasesURLTemplate
	}
	if template == "" {
		return "", fmt.Errorf("no source URL configured for %s", action)
	}
	return model.ExpandURL(template, map[string]string{"date": date}), nil
}

// HousingWebToBucket stages every file group of one quarterly snapshot and
// uploads the prefiltered CSV and its Parquet copy. The snapshot archive is
// downloaded and extracted at most once and removed afterwards. Files already
// staged are uploaded even when the snapshot is no longer published.
func (s *Service) HousingWebToBucket(ctx context.Context, action model.ActionType, files []string, year, month int) error {
	date := model.DateEncoding(year, month)
	extractDir := filepath.Join(s.settings.DataDir, string(action), date)
	extracted, unavailable := false, false
	defer func() {
		if extracted {
			s.remove(ctx, extractDir)
			s.remove(ctx, staging.MarkerPath(extractDir))
		}
	}()

	for _, file := range files {
		name := model.HousingFile(file, year, month)
		outDir := filepath.Join(s.settings.DataDir, file)
		parquetPath := filepath.Join(outDir, name+".parquet")
		csvPath := filepath.Join(outDir, name+".csv")
		inputs := map[string]string{"action": string(action), "file": file, "date": date}

		done, err := staging.Complete(parquetPath, stageHousingParquet, inputs)
		if err != nil {
			return withKind(ErrStorage, fmt.Errorf("check %s: %w", parquetPath, err))
		}

		if done {
			slog.InfoContext(ctx, "staged file is complete, skipping", "run_id", runIDFrom(ctx), "path", parquetPath)
		} else {
			if err := staging.Invalidate(parquetPath); err != nil {
				return withKind(ErrStorage, fmt.Errorf("invalidate %s: %w", parquetPath, err))
			}
			if unavailable {
				continue
			}
			if !extracted {
				ok, err := s.extractSnapshot(ctx, action, date, extractDir)
				if err != nil {
					return err
				}
				if !ok {
					slog.InfoContext(ctx, "snapshot not available, skipping", "run_id", runIDFrom(ctx), "action", action, "date", date, "file", file)
					unavailable = true
					continue
				}
				extracted = true
			}

			raw := filepath.Join(extractDir, name+".csv")
			if !exists(raw) {
				slog.InfoContext(ctx, "raw file not in snapshot, skipping", "run_id", runIDFrom(ctx), "path", raw)
				continue
			}
			if !exists(csvPath) {
				if err := s.prefilter(ctx, raw, csvPath); err != nil {
					return err
				}
			}

			t, err := readCSVFile(csvPath, housing.Separator)
			if err != nil {
				return withKind(ErrData, fmt.Errorf("read %s: %w", csvPath, err))
			}
			if err := staging.WriteParquet(parquetPath, t); err != nil {
				return withKind(ErrStorage, fmt.Errorf("stage: %w", err))
			}
			if err := staging.Mark(parquetPath, stageHousingParquet, inputs, runIDFrom(ctx)); err != nil {
				return withKind(ErrStorage, fmt.Errorf("mark: %w", err))
			}
			slog.InfoContext(ctx, "staged housing file", "run_id", runIDFrom(ctx), "path", parquetPath, "rows", t.Len())
		}

		if _, err := s.upload(ctx, parquetPath, model.HousingKeyDepth); err != nil {
			return err
		}
		if exists(csvPath) {
			if _, err := s.upload(ctx, csvPath, model.HousingKeyDepth); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractSnapshot makes sure the archive for date is unpacked in dir. An
// existing dir is reused only while its marker matches its contents.
func (s *Service) extractSnapshot(ctx context.Context, action model.ActionType, date, dir string) (bool, error) {
	inputs := map[string]string{"action": string(action), "date": date}
	done, err := staging.Complete(dir, stageHousingSnapshot, inputs)
	if err != nil {
		return false, withKind(ErrStorage, fmt.Errorf("check %s: %w", dir, err))
	}
	if done {
		return true, nil
	}
	if err := staging.Invalidate(dir); err != nil {
		return false, withKind(ErrStorage, fmt.Errorf("invalidate %s: %w", dir, err))
	}

	url, err := s.housingURL(action, date)
	if err != nil {
		return false, err
	}
	zipPath := dir + ".zip"
	if !exists(zipPath) {
		var ok bool
		err := s.task(ctx, "download", func(ctx context.Context) error {
			var err error
			ok, err = s.downloader.Download(ctx, url, zipPath)
			return err
		})
		if err != nil {
			return false, withKind(ErrNetwork, fmt.Errorf("download: %w", err))
		}
		if !ok {
			return false, nil
		}
	}

	// Unzip replaces whatever an interrupted run left in dir.
	n, err := archive.Unzip(zipPath, dir)
	if err != nil {
		os.Remove(zipPath)
		return false, withKind(ErrData, fmt.Errorf("extract %s: %w", zipPath, err))
	}
	if err := staging.Mark(dir, stageHousingSnapshot, inputs, runIDFrom(ctx)); err != nil {
		return false, withKind(ErrStorage, fmt.Errorf("mark: %w", err))
	}
	slog.InfoContext(ctx, "extracted snapshot", "run_id", runIDFrom(ctx), "path", dir, "files", n)
	s.remove(ctx, zipPath)
	return true, nil
}

func (s *Service) prefilter(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return withKind(ErrData, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return withKind(ErrStorage, err)
	}
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return withKind(ErrStorage, err)
	}

	stats, err := table.Prefilter(ctx, in, out, table.PrefilterOptions{
		Sep:         housing.Separator,
		ChunkSize:   s.settings.ChunkSize,
		TextColumns: housing.TextColumns,
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return withKind(ErrData, fmt.Errorf("prefilter %s: %w", src, err))
	}
	if err := os.Rename(tmp, dst); err != nil {
		return withKind(ErrStorage, err)
	}
	slog.InfoContext(ctx, "prefiltered raw file", "run_id", runIDFrom(ctx), "path", dst, "rows_in", stats.RowsIn, "rows_out", stats.RowsOut, "chunks", stats.Chunks)
	return nil
}

// HousingBucketToWarehouse appends one staged snapshot of file to
// belgium_housing_<action>.<file>_all and returns the rows written.
func (s *Service) HousingBucketToWarehouse(ctx context.Context, action model.ActionType, file string, year, month int) (int, error) {
	name := model.HousingFile(file, year, month)
	key := file + "/" + name + ".csv"
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

	t, err := readCSVFile(local, housing.Separator)
	if err != nil {
		return 0, withKind(ErrData, fmt.Errorf("read %s: %w", local, err))
	}
	if action == model.Transactions {
		if t, err = housing.FilterSales(t); err != nil {
			return 0, withKind(ErrData, err)
		}
	}
	if t, err = housing.AddSnapshotDate(t, local); err != nil {
		return 0, withKind(ErrData, err)
	}

	return s.load(ctx, model.HousingTable(action, file), t, warehouse.Append)
}
