package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/socialpulse/internal/metrics"
	"github.com/elonfeng/socialpulse/internal/pipeline"
	"github.com/elonfeng/socialpulse/internal/store"
	"github.com/elonfeng/socialpulse/pkg/record"
	"github.com/elonfeng/socialpulse/pkg/source"
)

func seedStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewJSON(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id, src string) record.Record {
		return record.Record{
			ID: id, Source: src, Platform: source.PlatformTimeline, CollectedAt: now,
			Metrics: record.Metrics{record.MetricLikes: 1},
		}
	}
	set := record.Set{Records: []record.Record{mk("1", "golang"), mk("2", "golang"), mk("3", "rustlang")}}
	n, err := s.Upsert(context.Background(), set)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	return s
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	rec, body := do(t, New(Options{}).Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestRecords(t *testing.T) {
	h := New(Options{Store: seedStore(t)}).Handler()

	rec, body := do(t, h, http.MethodGet, "/api/v1/records")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["count"])

	_, body = do(t, h, http.MethodGet, "/api/v1/records?source=golang")
	assert.EqualValues(t, 2, body["count"])

	_, body = do(t, h, http.MethodGet, "/api/v1/records?limit=1")
	assert.EqualValues(t, 1, body["count"])

	rec, _ = do(t, h, http.MethodGet, "/api/v1/records?limit=-2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/records?platform=myspace")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/records")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecordsWithoutStore(t *testing.T) {
	rec, _ := do(t, New(Options{}).Handler(), http.MethodGet, "/api/v1/records")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSources(t *testing.T) {
	rec, body := do(t, New(Options{Store: seedStore(t)}).Handler(), http.MethodGet, "/api/v1/sources")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].([]any)
	require.Len(t, data, 2)
	first := data[0].(map[string]any)
	assert.Equal(t, "golang", first["name"])
	assert.EqualValues(t, 2, first["records"])
}

type stubRunner struct {
	busy  bool
	calls int
	refs  []source.Ref
}

func (s *stubRunner) TryRun(_ context.Context, refs []source.Ref) (pipeline.Summary, bool) {
	if s.busy {
		return pipeline.Summary{}, false
	}
	s.calls++
	s.refs = refs
	return pipeline.Summary{
		RunID:    "run-42",
		Outcomes: []pipeline.Outcome{{Ref: refs[0], Collected: 4, Stored: 4}},
	}, true
}

func TestCollect(t *testing.T) {
	refs := []source.Ref{{Platform: source.PlatformTimeline, Handle: "golang", Count: 4}}
	runner := &stubRunner{}
	h := New(Options{Runner: runner, Refs: refs}).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/v1/collect")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, refs, runner.refs)
	assert.Equal(t, "run-42", body["run_id"])
	assert.EqualValues(t, 4, body["processed"])

	rec, _ = do(t, New(Options{Runner: runner}).Handler(), http.MethodPost, "/api/v1/collect")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCollectWhileRunInProgress(t *testing.T) {
	refs := []source.Ref{{Platform: source.PlatformTimeline, Handle: "golang", Count: 4}}
	runner := &stubRunner{busy: true}
	h := New(Options{Runner: runner, Refs: refs}).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/v1/collect")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, runner.calls)
	assert.Equal(t, "collection already running", body["error"])
}

func TestCollectSharesRunnerWithScheduledRuns(t *testing.T) {
	c := &slowCollector{entered: make(chan struct{}, 1), release: make(chan struct{})}
	runner := pipeline.New(pipeline.Config{Collectors: source.NewRegistry(c), Metrics: metrics.New(prometheus.NewRegistry())})
	refs := []source.Ref{{Platform: source.PlatformTimeline, Handle: "golang", Count: 4}}
	h := New(Options{Runner: runner, Refs: refs}).Handler()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(context.Background(), refs)
	}()
	<-c.entered

	rec, _ := do(t, h, http.MethodPost, "/api/v1/collect")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(c.release)
	<-done
}

// slowCollector blocks in Collect until release is closed.
type slowCollector struct {
	entered chan struct{}
	release chan struct{}
}

func (s *slowCollector) Platform() source.Platform { return source.PlatformTimeline }

func (s *slowCollector) Collect(context.Context, source.Ref) ([]source.RawRecord, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return nil, nil
}

func TestCharts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trend.png"), []byte("png"), 0o644))

	h := New(Options{ChartDir: dir}).Handler()
	rec, _ := do(t, h, http.MethodGet, "/charts/trend.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	rec, _ = do(t, h, http.MethodGet, "/charts/missing.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordsCollected.WithLabelValues(string(source.PlatformTimeline)).Add(3)

	rec, _ := do(t, New(Options{Gatherer: reg}).Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "socialpulse_records_collected_total")
}
