package storage

import (
	"path/filepath"
	"strings"
)

// TrimKey derives an object key from the last n segments of a local path,
// e.g. TrimKey("/data/Regional/Regional_20190331.parquet", 2) is
// "Regional/Regional_20190331.parquet".
func TrimKey(localPath string, n int) string {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(localPath)), "/")
	var segs []string
	for _, p := range parts {
		if p != "" && p != "." {
			segs = append(segs, p)
		}
	}
	if n < 1 {
		n = 1
	}
	if n > len(segs) {
		n = len(segs)
	}
	return strings.Join(segs[len(segs)-n:], "/")
}

// LocalPath maps an object key back under a local base directory.
func LocalPath(baseDir, key string) string {
	return filepath.Join(baseDir, filepath.FromSlash(key))
}
