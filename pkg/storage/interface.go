package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/tinytrim/pkg/report"
)

// ErrNilReport is returned when Write is given a nil report.
var ErrNilReport = errors.New("nil report")

// Storage archives generation reports.
// Implementations: memory (testing), badger (production)
type Storage interface {
	// Write stores a report, replacing any report with the same ID and time
	Write(ctx context.Context, r *report.Report) error

	// Query retrieves reports within a time range, newest first
	Query(ctx context.Context, req QueryRequest) ([]*report.Report, error)

	// Delete removes reports generated before the given time
	Delete(ctx context.Context, before time.Time) (int, error)

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// QueryRequest specifies which reports to retrieve
type QueryRequest struct {
	// Time range, inclusive
	Start time.Time
	End   time.Time

	// Limit number of results (0 = no limit)
	Limit int
}

// Matches reports whether a report generated at t falls inside the range.
func (q QueryRequest) Matches(t time.Time) bool {
	return !t.Before(q.Start) && !t.After(q.End)
}

// Stats provides archive health and usage info
type Stats struct {
	TotalReports uint64 `json:"total_reports"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	OldestReport time.Time `json:"oldest_report,omitempty"`
	NewestReport time.Time `json:"newest_report,omitempty"`
}
