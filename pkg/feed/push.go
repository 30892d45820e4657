package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/nicktill/tinytrim/pkg/httpx"
	"github.com/nicktill/tinytrim/pkg/point"
)

// maxPushBodyBytes bounds a push request body.
const maxPushBodyBytes = 8 << 20

// ErrSourceStopped is returned by push handlers while the source is stopped.
var ErrSourceStopped = errors.New("push source is stopped")

// PushSource accepts point batches over HTTP.
type PushSource struct {
	listener Listener
	running  atomic.Bool
}

// NewPushSource creates a stopped push source.
func NewPushSource(listener Listener) *PushSource {
	return &PushSource{listener: listener}
}

// Start begins accepting pushes.
func (s *PushSource) Start() error {
	if !s.running.Swap(true) {
		s.listener.OnConnectivityChanged(true, "accepting pushed points")
	}
	return nil
}

// Stop rejects further pushes.
func (s *PushSource) Stop() error {
	if s.running.Swap(false) {
		s.listener.OnConnectivityChanged(false, "push source stopped")
	}
	return nil
}

// Connected reports whether pushes are accepted.
func (s *PushSource) Connected() bool { return s.running.Load() }

// PointsRequest is the body of POST /v1/points.
type PointsRequest struct {
	Points []point.Point `json:"points"`
}

// BackendsRequest is the body of POST /v1/backends.
type BackendsRequest struct {
	Count int `json:"count"`
}

// PushResponse acknowledges a push.
type PushResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// HandlePoints handles POST /v1/points. The whole batch is validated before
// any point is delivered.
func (s *PushSource) HandlePoints(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		httpx.RespondError(w, http.StatusServiceUnavailable, ErrSourceStopped)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPushBodyBytes)
	var req PointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	if len(req.Points) > point.MaxPointsPerBatch {
		httpx.RespondError(w, http.StatusBadRequest, point.ErrTooManyPoints)
		return
	}
	for i := range req.Points {
		if err := point.Validate(&req.Points[i]); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("point %d: %w", i, err))
			return
		}
	}

	for i := range req.Points {
		s.listener.OnPoint(&req.Points[i])
	}

	httpx.RespondJSON(w, http.StatusOK, PushResponse{Status: "success", Count: len(req.Points)})
}

// HandleBackends handles POST /v1/backends.
func (s *PushSource) HandleBackends(w http.ResponseWriter, r *http.Request) {
	var req BackendsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Count < 1 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "count must be at least 1")
		return
	}

	s.listener.OnBackendCountChanged(req.Count)
	httpx.RespondJSON(w, http.StatusOK, PushResponse{Status: "success", Count: req.Count})
}
