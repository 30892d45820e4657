package pushclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrim/pkg/feed"
	"github.com/nicktill/tinytrim/pkg/point"
)

type recordingListener struct {
	mu       sync.Mutex
	points   []*point.Point
	backends []int
}

func (l *recordingListener) OnPoint(p *point.Point) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.points = append(l.points, p)
}

func (l *recordingListener) OnBackendCountChanged(count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backends = append(l.backends, count)
}

func (l *recordingListener) OnConnectivityChanged(bool, string) {}

func (l *recordingListener) pointCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.points)
}

// newPushServer serves the push endpoints and counts requests.
func newPushServer(t *testing.T) (*httptest.Server, *recordingListener, *atomic.Int64) {
	t.Helper()
	l := &recordingListener{}
	src := feed.NewPushSource(l)
	require.NoError(t, src.Start())

	requests := &atomic.Int64{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/points", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		src.HandlePoints(w, r)
	})
	mux.HandleFunc("/v1/backends", src.HandleBackends)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, l, requests
}

func TestHTTPTransport_SendSplitsBatches(t *testing.T) {
	srv, l, requests := newPushServer(t)
	tr := NewHTTP(srv.URL+"/", "secret")

	points := make([]point.Point, point.MaxPointsPerBatch+5)
	for i := range points {
		points[i] = point.Point{Metric: fmt.Sprintf("app.metric.%d", i), Host: "web-1"}
	}

	require.NoError(t, tr.Send(context.Background(), points))
	require.Equal(t, len(points), l.pointCount())
	require.Equal(t, int64(2), requests.Load())

	require.NoError(t, tr.Send(context.Background(), nil))
	require.Equal(t, int64(2), requests.Load(), "empty sends make no request")
}

func TestHTTPTransport_Errors(t *testing.T) {
	srv, _, _ := newPushServer(t)

	err := NewHTTP(srv.URL, "wrong").Send(context.Background(), []point.Point{{Metric: "m"}})
	require.ErrorContains(t, err, "status 401")

	err = NewHTTP(srv.URL, "secret").Send(context.Background(), []point.Point{{Metric: ""}})
	require.ErrorContains(t, err, "status 400")
}

func TestHTTPTransport_SetBackends(t *testing.T) {
	srv, l, _ := newPushServer(t)
	tr := NewHTTP(srv.URL, "secret")

	require.NoError(t, tr.SetBackends(context.Background(), 4))
	require.ErrorIs(t, tr.SetBackends(context.Background(), 0), ErrInvalidBackendCount)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Equal(t, []int{4}, l.backends)
}

type mockTransport struct {
	mu      sync.Mutex
	batches [][]point.Point
	sendErr error
}

func (m *mockTransport) Send(_ context.Context, batch []point.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]point.Point(nil), batch...))
	return m.sendErr
}

func (m *mockTransport) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestBatcher_FlushesWhenFull(t *testing.T) {
	tr := &mockTransport{}
	b := New(tr, Config{MaxBatchSize: 10, FlushEvery: time.Hour})
	b.Start(context.Background())

	for i := 0; i < 10; i++ {
		b.Add(point.Point{Metric: "app.cpu"})
	}
	require.Eventually(t, func() bool { return tr.total() == 10 }, 2*time.Second, 5*time.Millisecond)

	b.Add(point.Point{Metric: "app.mem"})
	require.NoError(t, b.Stop())
	require.Equal(t, 11, tr.total(), "Stop flushes the remainder")
	require.Equal(t, int64(11), b.Sent())
}

func TestBatcher_FlushesOnTimer(t *testing.T) {
	tr := &mockTransport{}
	b := New(tr, Config{MaxBatchSize: 100, FlushEvery: 10 * time.Millisecond})
	b.Start(context.Background())
	defer b.Stop()

	b.Add(point.Point{Metric: "app.cpu"})
	require.Eventually(t, func() bool { return tr.total() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestBatcher_CountsFailures(t *testing.T) {
	tr := &mockTransport{sendErr: errors.New("connection refused")}
	b := New(tr, Config{})

	b.Add(point.Point{Metric: "app.cpu"})
	b.Add(point.Point{Metric: "app.mem"})
	require.Error(t, b.Flush(context.Background()))
	require.Equal(t, int64(2), b.Failed())
	require.Zero(t, b.Sent())

	require.NoError(t, b.Stop(), "nothing left to flush")
}

func TestNew_Defaults(t *testing.T) {
	b := New(&mockTransport{}, Config{MaxBatchSize: 5000})
	require.Equal(t, point.MaxPointsPerBatch, b.config.MaxBatchSize)
	require.Equal(t, time.Second, b.config.FlushEvery)
}
