package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Storage and warehouse backends.
const (
	StorageMinIO        = "minio"
	StorageS3           = "s3"
	WarehouseClickHouse = "clickhouse"
	WarehousePostgres   = "postgres"
)

// Config holds application configuration.
type Config struct {
	DataDir string

	StorageDriver  string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	WarehouseDriver    string
	ClickHouseHost     string
	ClickHousePort     string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDatabase string
	PostgresDSN        string
	WarehouseChunkSize int

	TaskRetries int
	FetchTTL    time.Duration
	Cleanup     bool

	TaxiURLTemplate         string
	TransactionsURLTemplate string
	LeasesURLTemplate       string
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

type ErrInvalidEnvVar struct {
	Name  string
	Value string
}

func (e *ErrInvalidEnvVar) Error() string {
	return fmt.Sprintf("environment variable %q has invalid value %q", e.Name, e.Value)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", &ErrMissingRequiredEnvVar{Name: key}
	}
	return v, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ErrInvalidEnvVar{Name: key, Value: v}
	}
	return b, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, &ErrInvalidEnvVar{Name: key, Value: v}
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, &ErrInvalidEnvVar{Name: key, Value: v}
	}
	return d, nil
}

// Load reads configuration from environment variables.
// Returns an error if required variables are missing or malformed.
func Load() (*Config, error) {
	config := Config{
		DataDir:                 getEnv("LOCAL_DATA_DIR", "./data"),
		StorageDriver:           getEnv("STORAGE_DRIVER", StorageMinIO),
		WarehouseDriver:         getEnv("WAREHOUSE_DRIVER", WarehouseClickHouse),
		TaxiURLTemplate:         os.Getenv("TAXI_URL_TEMPLATE"),
		TransactionsURLTemplate: os.Getenv("HOUSING_TRANSACTIONS_URL_TEMPLATE"),
		LeasesURLTemplate:       os.Getenv("HOUSING_LEASES_URL_TEMPLATE"),
	}
	var err error

	switch config.StorageDriver {
	case StorageMinIO:
		if config.MinIOEndpoint, err = requireEnv("MINIO_ENDPOINT"); err != nil {
			return nil, err
		}
		if config.MinIOBucket, err = requireEnv("MINIO_BUCKET"); err != nil {
			return nil, err
		}
		// empty keys fall back to the MINIO_ROOT_* and AWS_* variables
		config.MinIOAccessKey = os.Getenv("MINIO_ACCESS_KEY")
		config.MinIOSecretKey = os.Getenv("MINIO_SECRET_KEY")
		if config.MinIOUseSSL, err = boolEnv("MINIO_USE_SSL", false); err != nil {
			return nil, err
		}
	case StorageS3:
		if config.S3Bucket, err = requireEnv("S3_BUCKET"); err != nil {
			return nil, err
		}
		if config.S3Region, err = requireEnv("S3_REGION"); err != nil {
			return nil, err
		}
		config.S3Endpoint = os.Getenv("S3_ENDPOINT")
		// both empty keeps the default AWS credential chain
		config.S3AccessKey = os.Getenv("S3_ACCESS_KEY_ID")
		config.S3SecretKey = os.Getenv("S3_SECRET_ACCESS_KEY")
		if config.S3AccessKey != "" && config.S3SecretKey == "" {
			return nil, &ErrMissingRequiredEnvVar{Name: "S3_SECRET_ACCESS_KEY"}
		}
		if config.S3SecretKey != "" && config.S3AccessKey == "" {
			return nil, &ErrMissingRequiredEnvVar{Name: "S3_ACCESS_KEY_ID"}
		}
	default:
		return nil, &ErrInvalidEnvVar{Name: "STORAGE_DRIVER", Value: config.StorageDriver}
	}

	switch config.WarehouseDriver {
	case WarehouseClickHouse:
		config.ClickHouseHost = getEnv("CLICKHOUSE_HOST", "localhost")
		config.ClickHousePort = getEnv("CLICKHOUSE_PORT", "9000")
		config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = getEnv("CLICKHOUSE_PASSWORD", "")
		config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
	case WarehousePostgres:
		if config.PostgresDSN, err = requireEnv("POSTGRES_DSN"); err != nil {
			return nil, err
		}
	default:
		return nil, &ErrInvalidEnvVar{Name: "WAREHOUSE_DRIVER", Value: config.WarehouseDriver}
	}

	if config.WarehouseChunkSize, err = intEnv("WAREHOUSE_CHUNK_SIZE", 500000); err != nil {
		return nil, err
	}
	if config.TaskRetries, err = intEnv("TASK_RETRIES", 3); err != nil {
		return nil, err
	}
	if config.FetchTTL, err = durationEnv("FETCH_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if config.Cleanup, err = boolEnv("CLEANUP", true); err != nil {
		return nil, err
	}

	return &config, nil
}
