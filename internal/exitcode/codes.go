package exitcode

// Exit codes for the ETL CLI.
// Every flow already retries fetches, uploads and loads TASK_RETRIES times
// in-process, so a non-zero code means those attempts are exhausted.
const (
	// Success - every unit of the plan completed or was skipped as unavailable
	Success = 0

	// ConfigError - missing or invalid configuration or flags
	// Don't retry: fix the config first
	ConfigError = 1

	// NetworkError - source download failed on every attempt, or the run was
	// interrupted. Staged files keep their markers, so a rerun resumes.
	NetworkError = 2

	// APIError - ClickHouse raised a server exception or MinIO refused the
	// credentials (401/403)
	// Check logs, rerunning will not help
	APIError = 3

	// StorageError - the bucket or the local staging area failed
	// Safe to rerun: uploads overwrite the same keys
	StorageError = 4

	// DataError - a source or staged file could not be parsed; also used for
	// errors that carry no known kind
	// Don't retry: investigate the data
	DataError = 5

	// WarehouseError - a load or read failed on every attempt. Appends are
	// not idempotent: rerunning a bucket-to-warehouse flow may duplicate
	// chunks that were written before the failure.
	WarehouseError = 6
)
