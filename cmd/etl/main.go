package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/adapters/web"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/config"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/exitcode"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/model"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/pipeline"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/storage"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/warehouse"
)

func main() {
	// Configure the global logger
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	// Parse and validate flags
	plan, runID, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		slog.Error("invalid arguments", "error", err)
		fmt.Fprintf(os.Stderr, "Usage: %v\n", err)
		os.Exit(exitcode.ConfigError)
	}

	// Ensure environment variables are loaded
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load env vars", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitcode.ConfigError)
	}
	if plan.Flow == model.FlowHousingWebToBucket && plan.Action == model.Leases && cfg.LeasesURLTemplate == "" {
		slog.Error("failed to load config", "error", &config.ErrMissingRequiredEnvVar{Name: "HOUSING_LEASES_URL_TEMPLATE"})
		os.Exit(exitcode.ConfigError)
	}

	// Create a cancellable context (for graceful shutdown)
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	objectStorage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize object storage", "driver", cfg.StorageDriver, "error", err)
		cancel()
		os.Exit(exitcode.StorageError)
	}

	wh, err := newWarehouse(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize warehouse", "driver", cfg.WarehouseDriver, "error", err)
		cancel()
		os.Exit(exitcode.WarehouseError)
	}

	svc := pipeline.NewService(web.NewClient(), objectStorage, wh, pipeline.Settings{
		DataDir:                 cfg.DataDir,
		Retries:                 cfg.TaskRetries,
		FetchTTL:                cfg.FetchTTL,
		Cleanup:                 cfg.Cleanup,
		TaxiURLTemplate:         cfg.TaxiURLTemplate,
		TransactionsURLTemplate: cfg.TransactionsURLTemplate,
		LeasesURLTemplate:       cfg.LeasesURLTemplate,
	})

	err = run(ctx, svc, plan, runID)
	if cerr := wh.Close(); cerr != nil {
		slog.Warn("failed to close warehouse", "error", cerr)
	}
	if err != nil {
		slog.Error("application error", "flow", plan.Flow, "run_id", runID, "error", err)
		cancel()
		os.Exit(exitCode(err))
	}

	slog.Info("shutdown complete")
}

type runner interface {
	Run(ctx context.Context, plan model.Plan, runID model.RunID) error
}

func run(ctx context.Context, svc runner, plan model.Plan, runID model.RunID) error {
	return svc.Run(ctx, plan, runID)
}

// parseFlags builds the plan for one invocation. A missing run-id is
// generated so ad-hoc runs still get a traceable identifier.
func parseFlags(args []string, output io.Writer) (model.Plan, model.RunID, error) {
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(output)
	flow := fs.String("flow", "", "Flow to run: taxi-web-to-bucket, taxi-bucket-to-warehouse, housing-web-to-bucket, housing-bucket-to-warehouse, price-to-rent")
	family := fs.String("family", "", "Taxi family: yellow, green or fhv")
	action := fs.String("action", "", "Housing action type: transactions or leases")
	years := fs.String("years", "", "Years, e.g. 2019 or 2016-2022")
	months := fs.String("months", "", "Months, e.g. 1-12 or 3,6,9,12")
	files := fs.String("files", "", "Comma separated housing file groups")
	filename := fs.String("filename", "", "File group joined by price-to-rent, e.g. MunicipalityWideRealEstate")
	runIDFlag := fs.String("run-id", "", "Run identifier (UUIDv7 from orchestration)")
	if err := fs.Parse(args); err != nil {
		return model.Plan{}, "", err
	}

	plan := model.Plan{
		Flow:     model.Flow(*flow),
		Family:   model.Family(*family),
		Action:   model.ActionType(*action),
		Files:    model.ParseList(*files),
		Filename: *filename,
	}
	if plan.Flow != model.FlowPriceToRent {
		var err error
		if plan.Years, err = model.ParseYears(*years); err != nil {
			return model.Plan{}, "", fmt.Errorf("years: %w", err)
		}
		if plan.Months, err = model.ParseMonths(*months); err != nil {
			return model.Plan{}, "", fmt.Errorf("months: %w", err)
		}
	}
	if err := plan.Validate(); err != nil {
		return model.Plan{}, "", err
	}

	runID := model.RunID(*runIDFlag)
	if runID == "" {
		var err error
		if runID, err = model.NewRunID(); err != nil {
			return model.Plan{}, "", err
		}
	}
	// Ensure run-id parses as UUIDv7 early
	if err := runID.Validate(); err != nil {
		return model.Plan{}, "", fmt.Errorf("run-id must be a UUIDv7: %w", err)
	}
	return plan, runID, nil
}

func newObjectStorage(ctx context.Context, cfg *config.Config) (pipeline.ObjectStorage, error) {
	if cfg.StorageDriver == config.StorageS3 {
		return storage.NewS3Client(storage.S3Config{
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Bucket:   cfg.S3Bucket,
			Creds:    storage.S3Credentials(cfg.S3AccessKey, cfg.S3SecretKey),
		})
	}
	return storage.NewMinIOClient(ctx, storage.MinIOConfig{
		Endpoint: cfg.MinIOEndpoint,
		Bucket:   cfg.MinIOBucket,
		UseSSL:   cfg.MinIOUseSSL,
		Creds:    storage.StaticCredentials(cfg.MinIOAccessKey, cfg.MinIOSecretKey),
	})
}

type closingWarehouse interface {
	pipeline.Warehouse
	Close() error
}

func newWarehouse(ctx context.Context, cfg *config.Config) (closingWarehouse, error) {
	if cfg.WarehouseDriver == config.WarehousePostgres {
		return warehouse.OpenPostgres(ctx, cfg.PostgresDSN, cfg.WarehouseChunkSize)
	}
	return warehouse.NewClickHouse(ctx, warehouse.ClickHouseConfig{
		Host:      cfg.ClickHouseHost,
		Port:      cfg.ClickHousePort,
		User:      cfg.ClickHouseUser,
		Password:  cfg.ClickHousePassword,
		Database:  cfg.ClickHouseDatabase,
		ChunkSize: cfg.WarehouseChunkSize,
	}, slog.Default().With("component", "clickhouse"))
}

// exitCode maps a flow error to the CLI exit code.
func exitCode(err error) int {
	if err == nil {
		return exitcode.Success
	}

	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		return exitcode.APIError
	}
	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) && (minioErr.StatusCode == http.StatusForbidden || minioErr.StatusCode == http.StatusUnauthorized) {
		return exitcode.APIError
	}

	switch {
	case errors.Is(err, pipeline.ErrNetwork):
		return exitcode.NetworkError
	case errors.Is(err, pipeline.ErrStorage):
		return exitcode.StorageError
	case errors.Is(err, pipeline.ErrWarehouse):
		return exitcode.WarehouseError
	case errors.Is(err, pipeline.ErrData):
		return exitcode.DataError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitcode.NetworkError
	default:
		return exitcode.DataError
	}
}
