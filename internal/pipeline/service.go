// Package pipeline runs the ETL flows: fetching sources, staging them
// locally, publishing to the bucket and loading the warehouse.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/model"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/storage"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/warehouse"
)

// Error kinds attached to flow failures so callers can pick an exit code.
var (
	ErrNetwork   = errors.New("network")
	ErrStorage   = errors.New("storage")
	ErrWarehouse = errors.New("warehouse")
	ErrData      = errors.New("data")
)

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

func withKind(kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Downloader retrieves source files over the network.
type Downloader interface {
	Download(ctx context.Context, url, dst string) (bool, error)
	Fetch(ctx context.Context, url, dst string, ttl time.Duration) (bool, error)
}

// ObjectStorage reads and writes bucket objects.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Warehouse loads tables into and reads them from the analytical store.
type Warehouse interface {
	Write(ctx context.Context, name string, t *table.Table, mode warehouse.Mode) (int, error)
	Read(ctx context.Context, name string) (*table.Table, error)
}

// Settings tune where and how flows run.
type Settings struct {
	DataDir string
	// ChunkSize is the number of rows per prefilter chunk.
	ChunkSize int
	Retries   int
	FetchTTL  time.Duration
	Cleanup   bool

	TaxiURLTemplate         string
	TransactionsURLTemplate string
	LeasesURLTemplate       string
}

// Service orchestrates the flows over injected adapters.
type Service struct {
	downloader Downloader
	storage    ObjectStorage
	warehouse  Warehouse
	settings   Settings
}

func NewService(downloader Downloader, objectStorage ObjectStorage, wh Warehouse, settings Settings) *Service {
	if settings.DataDir == "" {
		settings.DataDir = "data"
	}
	if settings.Retries < 1 {
		settings.Retries = 1
	}
	if settings.ChunkSize <= 0 {
		settings.ChunkSize = table.DefaultChunkSize
	}
	if settings.TaxiURLTemplate == "" {
		settings.TaxiURLTemplate = model.DefaultTaxiURLTemplate
	}
	if settings.TransactionsURLTemplate == "" {
		settings.TransactionsURLTemplate = model.DefaultTransactionsURLTemplate
	}
	return &Service{downloader: downloader, storage: objectStorage, warehouse: wh, settings: settings}
}

// Run executes plan unit by unit and stops at the first error.
func (s *Service) Run(ctx context.Context, plan model.Plan, runID model.RunID) error {
	if err := runID.Validate(); err != nil {
		return err
	}
	if err := plan.Validate(); err != nil {
		return err
	}
	ctx = withRun(ctx, runID, plan.Flow)

	slog.InfoContext(ctx, "flow started", "run_id", runID, "flow", plan.Flow)

	switch plan.Flow {
	case model.FlowTaxiWebToBucket:
		for _, year := range plan.Years {
			for _, month := range plan.Months {
				if err := s.TaxiWebToBucket(ctx, plan.Family, year, month); err != nil {
					return err
				}
			}
		}
	case model.FlowTaxiBucketToWarehouse:
		total := 0
		for _, year := range plan.Years {
			for _, month := range plan.Months {
				n, err := s.TaxiBucketToWarehouse(ctx, plan.Family, year, month)
				if err != nil {
					return err
				}
				total += n
			}
		}
		slog.InfoContext(ctx, "total rows processed", "run_id", runID, "rows", total)
	case model.FlowHousingWebToBucket:
		for _, year := range plan.Years {
			for _, month := range plan.Months {
				if err := s.HousingWebToBucket(ctx, plan.Action, plan.Files, year, month); err != nil {
					return err
				}
			}
		}
	case model.FlowHousingBucketToWarehouse:
		total := 0
		for _, year := range plan.Years {
			for _, month := range plan.Months {
				for _, file := range plan.Files {
					n, err := s.HousingBucketToWarehouse(ctx, plan.Action, file, year, month)
					if err != nil {
						return err
					}
					total += n
				}
			}
		}
		slog.InfoContext(ctx, "total rows processed", "run_id", runID, "rows", total)
	case model.FlowPriceToRent:
		if _, err := s.PriceToRent(ctx, plan.Filename); err != nil {
			return err
		}
	}

	slog.InfoContext(ctx, "flow complete", "run_id", runID, "flow", plan.Flow)
	return nil
}

type runKey struct{}

type runInfo struct {
	id   model.RunID
	flow model.Flow
}

func withRun(ctx context.Context, id model.RunID, flow model.Flow) context.Context {
	return context.WithValue(ctx, runKey{}, runInfo{id: id, flow: flow})
}

func runIDFrom(ctx context.Context) string {
	if info, ok := ctx.Value(runKey{}).(runInfo); ok {
		return info.id.String()
	}
	return ""
}

// task runs fn up to Settings.Retries times without delay between attempts.
// Data errors and context cancellation are not retried.
func (s *Service) task(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(s.settings.Retries-1)), ctx)
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if errors.Is(err, ErrData) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		slog.WarnContext(ctx, "task attempt failed", "task", name, "attempt", attempt, "attempts", s.settings.Retries, "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// upload publishes the local file at path under its trailing depth segments.
func (s *Service) upload(ctx context.Context, path string, depth int) (string, error) {
	key := storage.TrimKey(path, depth)
	err := s.task(ctx, "upload", func(ctx context.Context) error {
		f, err := os.Open(path)
		if err != nil {
			return withKind(ErrData, err)
		}
		defer f.Close()
		return s.storage.Put(ctx, key, f)
	})
	if err != nil {
		if errors.Is(err, ErrData) {
			return "", fmt.Errorf("upload %s: %w", path, err)
		}
		return "", withKind(ErrStorage, fmt.Errorf("upload %s: %w", key, err))
	}
	slog.InfoContext(ctx, "uploaded to bucket", "run_id", runIDFrom(ctx), "key", key, "path", path)
	return key, nil
}

// retrieve copies the bucket object key to dst. A missing object is
// reported as (false, nil).
func (s *Service) retrieve(ctx context.Context, key, dst string) (bool, error) {
	var found bool
	err := s.task(ctx, "retrieve", func(ctx context.Context) error {
		var err error
		if found, err = s.storage.Exists(ctx, key); err != nil || !found {
			return err
		}
		rc, err := s.storage.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		defer rc.Close()
		return writeFile(dst, rc)
	})
	if err != nil {
		return false, withKind(ErrStorage, fmt.Errorf("retrieve %s: %w", key, err))
	}
	return found, nil
}

// load writes t into the warehouse table name.
func (s *Service) load(ctx context.Context, name string, t *table.Table, mode warehouse.Mode) (int, error) {
	var n int
	err := s.task(ctx, "load", func(ctx context.Context) error {
		var err error
		n, err = s.warehouse.Write(ctx, name, t, mode)
		return err
	})
	if err != nil {
		return 0, withKind(ErrWarehouse, fmt.Errorf("load %s: %w", name, err))
	}
	slog.InfoContext(ctx, "loaded into warehouse", "run_id", runIDFrom(ctx), "table", name, "rows", n, "mode", mode)
	return n, nil
}

func (s *Service) remove(ctx context.Context, path string) {
	if !s.settings.Cleanup {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		slog.WarnContext(ctx, "cleanup failed", "path", path, "error", err)
		return
	}
	slog.DebugContext(ctx, "removed", "path", path)
}

func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readCSVFile(path string, sep rune) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return table.ReadCSV(f, sep)
}
