package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/tinytrim/pkg/report"
	"github.com/nicktill/tinytrim/pkg/storage"
)

// Storage stores reports in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	reports []*report.Report // sorted by GeneratedAt, oldest first
	mu      sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{}
}

// Write stores a copy of the report
func (s *Storage) Write(ctx context.Context, r *report.Report) error {
	if r == nil {
		return storage.ErrNilReport
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := clone(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.reports {
		if existing.ID == c.ID && existing.GeneratedAt.Equal(c.GeneratedAt) {
			s.reports[i] = c
			return nil
		}
	}

	i := sort.Search(len(s.reports), func(i int) bool {
		return s.reports[i].GeneratedAt.After(c.GeneratedAt)
	})
	s.reports = append(s.reports, nil)
	copy(s.reports[i+1:], s.reports[i:])
	s.reports[i] = c
	return nil
}

// Query retrieves reports in the requested range, newest first
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*report.Report
	for i := len(s.reports) - 1; i >= 0; i-- {
		r := s.reports[i]
		if !req.Matches(r.GeneratedAt) {
			continue
		}
		results = append(results, r)
		if req.Limit > 0 && len(results) >= req.Limit {
			break
		}
	}
	return results, nil
}

// Delete removes reports generated before the given time
func (s *Storage) Delete(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]*report.Report, 0, len(s.reports))
	for _, r := range s.reports {
		if !r.GeneratedAt.Before(before) {
			filtered = append(filtered, r)
		}
	}

	removed := len(s.reports) - len(filtered)
	s.reports = filtered
	return removed, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{TotalReports: uint64(len(s.reports))}
	if len(s.reports) == 0 {
		return stats, nil
	}

	stats.OldestReport = s.reports[0].GeneratedAt
	stats.NewestReport = s.reports[len(s.reports)-1].GeneratedAt
	for _, r := range s.reports {
		stats.SizeBytes += uint64(estimateSize(r))
	}
	return stats, nil
}

// clone deep-copies a report so callers can keep mutating theirs.
func clone(r *report.Report) (*report.Report, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var c report.Report
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// estimateSize is a rough per-report footprint
func estimateSize(r *report.Report) int {
	size := 128
	for _, t := range r.Tiers {
		size += 96
		for _, rec := range t.Recommendations {
			size += 96 + len(rec.Description)
		}
	}
	return size
}
