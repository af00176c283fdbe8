package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepcal/internal/calstore"
	"sleepcal/internal/config"
	"sleepcal/internal/health"
	"sleepcal/internal/pipeline"
)

const export = `[
  {"startDate": "2024-01-10 02:22:00 +0000", "endDate": "2024-01-10 02:56:00 +0000", "value": "Awake"},
  {"startDate": "2024-01-10 02:56:00 +0000", "endDate": "2024-01-10 03:21:00 +0000", "value": "Core"}
]`

type recordingSyncer struct {
	mu   sync.Mutex
	reqs []pipeline.Request
	err  error
}

func (r *recordingSyncer) Sync(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return pipeline.Result{Created: len(req.Samples)}, r.err
}

func testConfig(t *testing.T, sources ...config.SourceConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.Sources = sources
	return cfg
}

func TestRunOnceSkipsUnchangedExports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(export), 0o600))

	cfg := testConfig(t, config.SourceConfig{ID: "phone", Location: path, Email: "a@b.c"})
	syncer := &recordingSyncer{}
	s := New(cfg, health.NewFetcher(cfg.CacheDir), syncer)

	reports, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Unchanged)
	assert.Equal(t, 2, reports[0].Result.Created)
	require.Len(t, syncer.reqs, 1)
	assert.Equal(t, "a@b.c", syncer.reqs[0].Email)

	reports, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, reports[0].Unchanged)
	assert.Len(t, syncer.reqs, 1)

	// New data triggers another sync.
	require.NoError(t, os.WriteFile(path, []byte(export[:len(export)-1]+`,{"startDate":"2024-01-10 03:21:00 +0000","endDate":"2024-01-10 04:00:00 +0000","value":"Deep"}]`), 0o600))
	reports, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, reports[0].Unchanged)
	assert.Len(t, syncer.reqs, 2)
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(export), 0o600))

	cfg := testConfig(t,
		config.SourceConfig{ID: "missing", Location: filepath.Join(dir, "nope.json")},
		config.SourceConfig{ID: "good", Location: good},
	)
	syncer := &recordingSyncer{}
	reports, err := New(cfg, health.NewFetcher(cfg.CacheDir), syncer).RunOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "source missing")
	require.Len(t, reports, 2)
	assert.Error(t, reports[0].Err)
	assert.NoError(t, reports[1].Err)
	assert.Len(t, syncer.reqs, 1)
}

func TestRunOnceReportsSyncErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(export), 0o600))

	cfg := testConfig(t, config.SourceConfig{ID: "phone", Location: path})
	syncer := &recordingSyncer{err: &calstore.RemoteError{Op: "list calendars", Err: errors.New("401")}}

	_, err := New(cfg, health.NewFetcher(cfg.CacheDir), syncer).RunOnce(context.Background())
	var re *calstore.RemoteError
	assert.ErrorAs(t, err, &re)
}

func TestRunOnceRetriesAfterFailedSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(export), 0o600))

	cfg := testConfig(t, config.SourceConfig{ID: "phone", Location: path, Email: "a@b.c"})
	syncer := &recordingSyncer{err: errors.New("calendar unavailable")}
	s := New(cfg, health.NewFetcher(cfg.CacheDir), syncer)

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)

	syncer.err = nil
	reports, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, reports[0].Unchanged)
	assert.Len(t, syncer.reqs, 2)

	// Only the successful run is remembered.
	reports, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, reports[0].Unchanged)
	assert.Len(t, syncer.reqs, 2)
}

func TestRunOnceFallsBackToOwnerEmail(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(a, []byte(export), 0o600))
	require.NoError(t, os.WriteFile(b, []byte(export), 0o600))

	cfg := testConfig(t,
		config.SourceConfig{ID: "anon", Location: a},
		config.SourceConfig{ID: "named", Location: b, Email: "named@example.com"},
	)
	cfg.Calendar.OwnerEmail = "owner@example.com"
	syncer := &recordingSyncer{}

	_, err := New(cfg, health.NewFetcher(cfg.CacheDir), syncer).RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, syncer.reqs, 2)
	assert.Equal(t, "owner@example.com", syncer.reqs[0].Email)
	assert.Equal(t, "named@example.com", syncer.reqs[1].Email)
}

func TestRunEndToEndAgainstMemoryStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(export), 0o600))

	cfg := testConfig(t, config.SourceConfig{ID: "phone", Location: path, Email: "a@b.c"})
	store := calstore.NewMemory()
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	syncer := pipeline.New(store, pipeline.WithClock(func() time.Time { return now }))

	reports, err := New(cfg, health.NewFetcher(cfg.CacheDir), syncer).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, reports[0].Result.Created)
	assert.Len(t, store.Events(reports[0].Result.CalendarID), 3)
}

func TestRunReturnsOnCancel(t *testing.T) {
	cfg := testConfig(t, config.SourceConfig{ID: "x", Location: "/nonexistent"})
	s := New(cfg, health.NewFetcher(cfg.CacheDir), &recordingSyncer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t, config.SourceConfig{ID: "x", Location: "/nonexistent"})
	cfg.RefreshCron = "whenever"
	err := New(cfg, health.NewFetcher(cfg.CacheDir), &recordingSyncer{}).Run(context.Background())
	assert.Error(t, err)
}
