package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tinytrim/pkg/config"
	"github.com/nicktill/tinytrim/pkg/hypothesis"
	"github.com/nicktill/tinytrim/pkg/httpx"
	"github.com/nicktill/tinytrim/pkg/report"
	"github.com/nicktill/tinytrim/pkg/server/monitor"
	"github.com/nicktill/tinytrim/pkg/storage"
	"github.com/nicktill/tinytrim/pkg/tier"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// ArchiveStatus is the archive section of the health response.
type ArchiveStatus struct {
	*storage.Stats
	DiskBytes int64 `json:"disk_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string             `json:"status"`
	Version    string             `json:"version"`
	Uptime     string             `json:"uptime"`
	Generation int64              `json:"generation"`
	Accepting  bool               `json:"accepting"`
	Backends   int                `json:"backends"`
	Pipeline   PipelineStats      `json:"pipeline"`
	Feed       monitor.FeedStatus `json:"feed"`
	Archive    *ArchiveStatus     `json:"archive,omitempty"`
}

// TierResponse is one entry of GET /v1/tiers.
type TierResponse struct {
	Index int `json:"index"`
	tier.Summary
}

// HypothesesResponse is the body of GET /v1/tiers/{index}/hypotheses.
type HypothesesResponse struct {
	Index      int                   `json:"index"`
	Confidence float64               `json:"confidence"`
	Total      int                   `json:"total"`
	Hypotheses []hypothesis.Snapshot `json:"hypotheses"`
}

// ReportsResponse is the body of GET /v1/reports.
type ReportsResponse struct {
	Reports []*report.Report `json:"reports"`
	Count   int              `json:"count"`
}

// handleHealth returns service health status.
func handleHealth(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		statusCode := http.StatusOK
		if !app.FeedMonitor.IsHealthy() {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:     status,
			Version:    Version,
			Uptime:     time.Since(startTime).String(),
			Generation: app.Engine.Generation(),
			Accepting:  app.Engine.Accepting(),
			Backends:   app.Engine.BackendCount(),
			Pipeline:   app.Pipeline.Stats(),
			Feed:       app.FeedMonitor.Status(),
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.HandlerTimeout)
		defer cancel()
		if stats, err := app.Store.Stats(ctx); err == nil {
			response.Archive = &ArchiveStatus{Stats: stats}
			if usage, err := app.DiskMonitor.Usage(); err == nil {
				response.Archive.DiskBytes = usage
			}
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleTiers lists every tier, strictest first.
func handleTiers(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries := app.Engine.Tiers()
		out := make([]TierResponse, len(summaries))
		for i, s := range summaries {
			out[i] = TierResponse{Index: i, Summary: s}
		}
		httpx.RespondJSON(w, http.StatusOK, out)
	}
}

// handleTierHypotheses lists a tier's live hypotheses in rank order.
func handleTierHypotheses(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(mux.Vars(r)["index"])
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "tier index must be an integer")
			return
		}
		t, err := app.Engine.Tier(index)
		if err != nil {
			httpx.RespondError(w, http.StatusNotFound, err)
			return
		}
		limit, err := httpx.QueryInt(r, "limit", config.DefaultReportLimit, config.MaxReportLimit)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		live := t.Hypotheses()
		resp := HypothesesResponse{
			Index:      index,
			Confidence: t.Confidence(),
			Total:      len(live),
			Hypotheses: make([]hypothesis.Snapshot, 0, min(limit, len(live))),
		}
		for _, h := range live {
			if len(resp.Hypotheses) >= limit {
				break
			}
			resp.Hypotheses = append(resp.Hypotheses, h.Snapshot(t.Correction()))
		}
		httpx.RespondJSON(w, http.StatusOK, resp)
	}
}

// handleRecommendations returns the latest report, or an empty one before the
// first generation completes.
func handleRecommendations(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest := app.Engine.Latest()
		if latest == nil {
			latest = &report.Report{Tiers: []report.TierReport{}}
		}
		httpx.RespondJSON(w, http.StatusOK, latest)
	}
}

// handleReports queries the archive.
func handleReports(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		start, err := httpx.QueryTime(r, "start", now.Add(-config.DefaultReportsWindow))
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		end, err := httpx.QueryTime(r, "end", now)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		if end.Before(start) {
			httpx.RespondErrorString(w, http.StatusBadRequest, "end must not be before start")
			return
		}
		limit, err := httpx.QueryInt(r, "limit", config.DefaultReportLimit, config.MaxReportLimit)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.HandlerTimeout)
		defer cancel()

		reports, err := app.Store.Query(ctx, storage.QueryRequest{Start: start, End: end, Limit: limit})
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		if reports == nil {
			reports = []*report.Report{}
		}
		httpx.RespondJSON(w, http.StatusOK, ReportsResponse{Reports: reports, Count: len(reports)})
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, app *App) {
	router.Use(corsMiddleware(app.Config.Port))

	api := router.PathPrefix("/v1").Subrouter()

	// Engine state
	api.HandleFunc("/health", handleHealth(app)).Methods("GET")
	api.HandleFunc("/tiers", handleTiers(app)).Methods("GET")
	api.HandleFunc("/tiers/{index}/hypotheses", handleTierHypotheses(app)).Methods("GET")
	api.HandleFunc("/recommendations", handleRecommendations(app)).Methods("GET")
	api.HandleFunc("/reports", handleReports(app)).Methods("GET")

	// Pushed feed
	api.HandleFunc("/points", app.Push.HandlePoints).Methods("POST")
	api.HandleFunc("/backends", app.Push.HandleBackends).Methods("POST")

	// WebSocket for live reports
	api.HandleFunc("/ws", app.Hub.HandleWebSocket).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
