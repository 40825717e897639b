package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"
)

// Marker is the completion record written beside a staged artifact.
type Marker struct {
	Stage     string            `json:"stage"`
	Inputs    map[string]string `json:"inputs"`
	SHA256    string            `json:"sha256"`
	Size      int64             `json:"size"`
	RunID     string            `json:"run_id,omitempty"`
	WrittenAt time.Time         `json:"written_at"`
}

// MarkerPath returns where the marker for artifact path lives.
func MarkerPath(path string) string {
	return path + ".done.json"
}

// Mark hashes the artifact at path and records it as the output of stage for
// inputs. A directory artifact is hashed over its relative file names and
// contents.
func Mark(path, stage string, inputs map[string]string, runID string) error {
	sum, size, err := hashPath(path)
	if err != nil {
		return err
	}
	m := Marker{
		Stage:     stage,
		Inputs:    inputs,
		SHA256:    sum,
		Size:      size,
		RunID:     runID,
		WrittenAt: time.Now().UTC(),
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	tmp := MarkerPath(path) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return os.Rename(tmp, MarkerPath(path))
}

// Complete reports whether path holds a finished artifact of stage for
// inputs: the file and its marker exist and the file's size and SHA-256
// still match what was recorded.
func Complete(path, stage string, inputs map[string]string) (bool, error) {
	b, err := os.ReadFile(MarkerPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read marker: %w", err)
	}
	var m Marker
	if err := json.Unmarshal(b, &m); err != nil {
		// unreadable marker: rebuild
		return false, nil
	}
	if m.Stage != stage || !maps.Equal(m.Inputs, inputs) {
		return false, nil
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() && info.Size() != m.Size {
		return false, nil
	}
	sum, size, err := hashPath(path)
	if err != nil {
		return false, err
	}
	return sum == m.SHA256 && size == m.Size, nil
}

// Invalidate removes the marker so the next run rebuilds the artifact.
func Invalidate(path string) error {
	err := os.Remove(MarkerPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func hashPath(path string) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	h := sha256.New()
	if !info.IsDir() {
		n, err := copyFile(h, path)
		return hex.EncodeToString(h.Sum(nil)), n, err
	}

	var total int64
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		io.WriteString(h, filepath.ToSlash(rel))
		h.Write([]byte{0})
		n, err := copyFile(h, p)
		total += n
		return err
	})
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}

func copyFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	n, err := io.Copy(w, f)
	if err != nil {
		return 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return n, nil
}
