package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultChunkSize is the buffer used when streaming a response body to disk.
const DefaultChunkSize = 128 * 1024

// Client downloads source archives over HTTP.
type Client struct {
	httpClient *http.Client
	chunkSize  int
	now        func() time.Time
}

// NewClient creates a new download client. Large archives can take minutes,
// so only the time to receive response headers is bounded.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
		chunkSize: DefaultChunkSize,
		now:       time.Now,
	}
}

// Download streams url into dst. A non-OK response is logged and reported
// as (false, nil) with dst left absent; callers decide what a missing
// file means. Transport failures are returned as errors.
func (c *Client) Download(ctx context.Context, url, dst string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, &ClientError{Message: fmt.Sprintf("build request: %v", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &ClientError{Message: fmt.Sprintf("request %s: %v", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.WarnContext(ctx, "download request was not successful", "url", url, "error", &statusError{StatusCode: resp.StatusCode, URL: url})
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return false, err
	}
	n, err := io.CopyBuffer(f, resp.Body, make([]byte, c.chunkSize))
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return false, &ClientError{Message: fmt.Sprintf("read body of %s: %v", url, err)}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "download complete", "url", url, "path", dst, "bytes", n)
	return true, nil
}

// Fetch returns a local copy of url at dst, reusing an existing dst that is
// younger than ttl instead of downloading again.
func (c *Client) Fetch(ctx context.Context, url, dst string, ttl time.Duration) (bool, error) {
	if info, err := os.Stat(dst); err == nil && ttl > 0 && c.now().Sub(info.ModTime()) < ttl {
		slog.DebugContext(ctx, "using cached download", "path", dst, "age", c.now().Sub(info.ModTime()).Round(time.Second))
		return true, nil
	}
	return c.Download(ctx, url, dst)
}
