package storage

import (
	"errors"
	"path"
)

// ErrNotFound is returned by Get when the object key does not exist.
var ErrNotFound = errors.New("object not found")

func contentType(key string) string {
	switch path.Ext(key) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
