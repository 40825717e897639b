package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/model"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/staging"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/storage"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/warehouse"
)

const testRunID = model.RunID("01890c24-905b-7122-b170-b60814e6ee06")

type stubDownloader struct {
	body      []byte
	missing   bool
	err       error
	calls     int
	urls      []string
	fetchTTLs []time.Duration
}

func (d *stubDownloader) Download(ctx context.Context, url, dst string) (bool, error) {
	d.calls++
	d.urls = append(d.urls, url)
	if d.err != nil {
		return false, d.err
	}
	if d.missing {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	return true, os.WriteFile(dst, d.body, 0o644)
}

func (d *stubDownloader) Fetch(ctx context.Context, url, dst string, ttl time.Duration) (bool, error) {
	d.fetchTTLs = append(d.fetchTTLs, ttl)
	return d.Download(ctx, url, dst)
}

type memStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	existsErr error
	puts      int
	gets      int
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) Put(ctx context.Context, key string, data io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[key] = b
	return nil
}

func (m *memStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	b, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.objects[key]
	return ok, nil
}

type write struct {
	name  string
	table *table.Table
	mode  warehouse.Mode
}

type memWarehouse struct {
	mu       sync.Mutex
	tables   map[string]*table.Table
	writes   []write
	writeErr error
}

func newMemWarehouse() *memWarehouse {
	return &memWarehouse{tables: make(map[string]*table.Table)}
}

func (w *memWarehouse) Write(ctx context.Context, name string, t *table.Table, mode warehouse.Mode) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	w.writes = append(w.writes, write{name: name, table: t, mode: mode})
	return t.Len(), nil
}

func (w *memWarehouse) Read(ctx context.Context, name string) (*table.Table, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tables[name]
	if !ok {
		return nil, errors.New("table " + name + " not found")
	}
	return t, nil
}

func newTestService(t *testing.T, dl Downloader, st ObjectStorage, wh Warehouse) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	svc := NewService(dl, st, wh, Settings{
		DataDir:           dir,
		Retries:           3,
		FetchTTL:          24 * time.Hour,
		Cleanup:           true,
		LeasesURLTemplate: "https://example.test/leases_{date}.zip",
	})
	return svc, dir
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestService_Run_InvalidRunID(t *testing.T) {
	svc, _ := newTestService(t, &stubDownloader{}, newMemStorage(), newMemWarehouse())
	plan := model.Plan{Flow: model.FlowTaxiWebToBucket, Family: model.Yellow, Years: []int{2019}, Months: []int{1}}

	if err := svc.Run(context.Background(), plan, model.RunID("not-a-uuid")); err == nil {
		t.Fatal("expected validation error for runID")
	}
}

func TestService_Run_InvalidPlan(t *testing.T) {
	svc, _ := newTestService(t, &stubDownloader{}, newMemStorage(), newMemWarehouse())
	plan := model.Plan{Flow: model.FlowTaxiWebToBucket, Family: "purple", Years: []int{2019}, Months: []int{1}}

	if err := svc.Run(context.Background(), plan, testRunID); err == nil {
		t.Fatal("expected validation error for plan")
	}
}

func TestService_Task_RetriesThenFails(t *testing.T) {
	svc, _ := newTestService(t, &stubDownloader{}, newMemStorage(), newMemWarehouse())
	calls := 0
	err := svc.task(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		return errors.New("timeout")
	})
	if err == nil || !strings.Contains(err.Error(), "flaky: timeout") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestService_Task_RecoversOnRetry(t *testing.T) {
	svc, _ := newTestService(t, &stubDownloader{}, newMemStorage(), newMemWarehouse())
	calls := 0
	err := svc.task(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("task() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestService_Task_DataErrorNotRetried(t *testing.T) {
	svc, _ := newTestService(t, &stubDownloader{}, newMemStorage(), newMemWarehouse())
	calls := 0
	err := svc.task(context.Background(), "parse", func(ctx context.Context) error {
		calls++
		return withKind(ErrData, errors.New("bad row"))
	})
	if !errors.Is(err, ErrData) {
		t.Fatalf("expected ErrData, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestService_Task_StopsOnCancelledContext(t *testing.T) {
	svc, _ := newTestService(t, &stubDownloader{}, newMemStorage(), newMemWarehouse())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := svc.task(ctx, "fetch", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestService_Task_CancelledBeforeStart(t *testing.T) {
	svc, _ := newTestService(t, &stubDownloader{}, newMemStorage(), newMemWarehouse())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := svc.task(ctx, "upload", func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no attempt, got %d", calls)
	}
}

func TestService_Task_SingleAttempt(t *testing.T) {
	svc := NewService(&stubDownloader{}, newMemStorage(), newMemWarehouse(), Settings{DataDir: t.TempDir(), Retries: 1})
	calls := 0
	err := svc.task(context.Background(), "load", func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one failed attempt, got %d, %v", calls, err)
	}
}

func TestWithKind(t *testing.T) {
	base := errors.New("connection refused")
	err := withKind(ErrStorage, base)
	if !errors.Is(err, ErrStorage) || !errors.Is(err, base) {
		t.Fatalf("expected kind and cause to match, got %v", err)
	}
	if err.Error() != "connection refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if withKind(ErrData, nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func stageParquet(t *testing.T, tbl *table.Table) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staged.parquet")
	if err := staging.WriteParquet(path, tbl); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
