package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrim/pkg/config"
	"github.com/nicktill/tinytrim/pkg/engine"
	"github.com/nicktill/tinytrim/pkg/feed"
	"github.com/nicktill/tinytrim/pkg/generator"
	"github.com/nicktill/tinytrim/pkg/hypothesis"
	"github.com/nicktill/tinytrim/pkg/point"
	"github.com/nicktill/tinytrim/pkg/report"
	"github.com/nicktill/tinytrim/pkg/server/monitor"
	"github.com/nicktill/tinytrim/pkg/storage"
	"github.com/nicktill/tinytrim/pkg/storage/memory"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.WarmUp = 0
	cfg.GenerationTime = 20 * time.Millisecond
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) (*App, *httptest.Server) {
	t.Helper()
	app, err := Initialize(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.Store.Close() })

	router := mux.NewRouter()
	SetupRoutes(router, app)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return app, srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_EndToEnd(t *testing.T) {
	app, srv := newTestServer(t, testConfig())

	// Push source is stopped until the engine starts it
	resp, err := http.Post(srv.URL+"/v1/points", "application/json", bytes.NewReader([]byte(`{"points":[]}`)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Engine.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, app.Engine.Accepting, 2*time.Second, 5*time.Millisecond)

	body, err := json.Marshal(feed.PointsRequest{Points: []point.Point{
		{Metric: "app.cpu.idle", Host: "web-1", Tags: point.Tags{"env": {"dev"}}, Timestamp: time.Now().UnixMilli(), Value: 1},
	}})
	require.NoError(t, err)
	resp, err = http.Post(srv.URL+"/v1/points", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/backends", "application/json", bytes.NewReader([]byte(`{"count":3}`)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, app.Engine.BackendCount())

	var tiers []TierResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/tiers", &tiers))
	require.Len(t, tiers, len(config.DefaultTiers))
	require.Positive(t, tiers[0].Size, "new candidates land in the strictest tier")
	require.True(t, tiers[len(tiers)-1].CatchAll)

	var hyps HypothesesResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/tiers/0/hypotheses?limit=2", &hyps))
	require.Len(t, hyps.Hypotheses, 2)
	require.Greater(t, hyps.Total, 2)

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/tiers/99/hypotheses", nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/tiers/first/hypotheses", nil))

	// A full generation publishes into the archive
	require.Eventually(t, func() bool { return app.Engine.Latest() != nil }, 2*time.Second, 5*time.Millisecond)

	var latest report.Report
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/recommendations", &latest))
	require.NotEmpty(t, latest.ID)
	require.Len(t, latest.Tiers, len(config.DefaultTiers)-1, "catch-all is not reported")

	var reports ReportsResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/reports", &reports))
	require.Positive(t, reports.Count)

	var health HealthResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/health", &health))
	require.Equal(t, "healthy", health.Status)
	require.True(t, health.Accepting)
	require.True(t, health.Feed.Connected)
	require.Equal(t, int64(1), health.Pipeline.Points)
	require.NotNil(t, health.Archive)
	require.Positive(t, health.Archive.TotalReports)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Recommendations_BeforeFirstGeneration(t *testing.T) {
	_, srv := newTestServer(t, testConfig())

	var latest report.Report
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/recommendations", &latest))
	require.Empty(t, latest.ID)
	require.Empty(t, latest.Tiers)
}

func TestServer_Reports(t *testing.T) {
	app, srv := newTestServer(t, testConfig())
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		require.NoError(t, app.Store.Write(ctx, &report.Report{
			ID:          "gen",
			Generation:  int64(i),
			GeneratedAt: now.Add(time.Duration(i-4) * time.Minute),
		}))
	}

	var reports ReportsResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/reports?limit=2", &reports))
	require.Equal(t, 2, reports.Count)
	require.Equal(t, int64(3), reports.Reports[0].Generation)

	tests := []struct {
		name  string
		query string
	}{
		{"bad start", "start=yesterday"},
		{"bad end", "end=soon"},
		{"inverted range", "start=2000&end=1000"},
		{"bad limit", "limit=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/reports?"+tt.query, nil))
		})
	}
}

func TestServer_HealthDegraded(t *testing.T) {
	app, srv := newTestServer(t, testConfig())

	for i := 0; i < config.FeedMaxConsecutiveFailures+1; i++ {
		app.FeedMonitor.RecordFailure(errors.New("dial refused"))
	}

	var health HealthResponse
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/v1/health", &health))
	require.Equal(t, "degraded", health.Status)
	require.Equal(t, "dial refused", health.Feed.LastError)
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware("8080")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tiers", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, http.StatusTeapot, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/tiers", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/tiers", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

type countingOfferer struct{ offers int }

func (c *countingOfferer) OfferHypothesis(*hypothesis.Hypothesis) bool {
	c.offers++
	return true
}

func TestPipeline(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.WarmUp = 0
	eng, err := engine.New(cfg)
	require.NoError(t, err)

	offers := &countingOfferer{}
	mon := monitor.NewFeedMonitor()
	p := NewPipeline(eng, generator.New(offers), mon)

	p.OnPoint(&point.Point{Metric: "app.cpu.idle", Host: "web-1", Timestamp: time.Now().UnixMilli()})
	require.Positive(t, offers.offers, "generator offers candidates for every point")
	require.Equal(t, PipelineStats{Points: 1, Admitted: 0}, p.Stats(), "engine ignores points until it runs")

	p.OnBackendCountChanged(5)
	require.Equal(t, 5, eng.BackendCount())

	p.OnConnectivityChanged(true, "connected")
	require.True(t, mon.Status().Connected)
}

func TestRunRetention(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	require.NoError(t, store.Write(ctx, &report.Report{ID: "old", GeneratedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Write(ctx, &report.Report{ID: "new", GeneratedAt: now}))

	done := make(chan error, 1)
	go func() { done <- RunRetention(ctx, store, 24*time.Hour, time.Hour) }()

	require.Eventually(t, func() bool {
		stats, err := store.Stats(ctx)
		return err == nil && stats.TotalReports == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

type failingStore struct {
	storage.Storage
	calls int
}

func (f *failingStore) Delete(context.Context, time.Time) (int, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func TestEnforceRetention_Retries(t *testing.T) {
	prev := retentionBaseDelay
	retentionBaseDelay = time.Millisecond
	defer func() { retentionBaseDelay = prev }()

	store := &failingStore{}
	enforceRetention(context.Background(), store, time.Hour)
	require.Equal(t, retentionMaxRetries+1, store.calls)
}

func TestRunBadgerGC_SkipsMemoryStore(t *testing.T) {
	require.NoError(t, RunBadgerGC(context.Background(), memory.New(), time.Millisecond))
}
