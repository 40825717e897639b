// Package archive unpacks the compressed containers the open data sources ship.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Unzip extracts every member of the archive at src into dstDir.
// Members whose path would land outside dstDir are rejected. Extraction
// happens in a sibling directory that replaces dstDir only once every
// member is written, so dstDir never holds a partial archive.
func Unzip(src, dstDir string) (int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("open zip %s: %w", src, err)
	}
	defer zr.Close()

	final, err := filepath.Abs(dstDir)
	if err != nil {
		return 0, err
	}
	root := final + ".tmp"
	if err := os.RemoveAll(root); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", root, err)
	}

	n, err := extractAll(zr.File, root, dstDir)
	if err != nil {
		os.RemoveAll(root)
		return 0, err
	}
	if err := os.RemoveAll(final); err != nil {
		os.RemoveAll(root)
		return 0, err
	}
	if err := os.Rename(root, final); err != nil {
		os.RemoveAll(root)
		return 0, fmt.Errorf("move %s into place: %w", dstDir, err)
	}
	return n, nil
}

func extractAll(files []*zip.File, root, name string) (int, error) {
	n := 0
	for _, f := range files {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return n, fmt.Errorf("zip member %q escapes %s", f.Name, name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open member %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	gerr := g.Reader.Close()
	ferr := g.f.Close()
	if gerr != nil {
		return gerr
	}
	return ferr
}

// OpenGzip opens a gzip-compressed file for streaming reads.
func OpenGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}
