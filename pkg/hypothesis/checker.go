package hypothesis

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nicktill/tinytrim/pkg/cardinality"
	"github.com/nicktill/tinytrim/pkg/meter"
	"github.com/nicktill/tinytrim/pkg/point"
)

const (
	// DefaultMaxTrackedSeries bounds the per-hypothesis series map of tracking variants.
	DefaultMaxTrackedSeries = 10000

	// StaleAfter is how old a point must be to count as stale.
	StaleAfter = time.Hour

	// describedValues caps the constant values listed in a description.
	describedValues = 10
)

// checker decides, for a matched point, whether it counts as a hit and
// whether it falsifies the rule's safety assumption.
type checker interface {
	observe(p *point.Point) (hit, violation bool)

	// adjust turns the raw violation rate into the reported one.
	adjust(raw float64, c Correction) float64
}

// usageChecker backs rules whose safety assumption is "nobody reads this".
type usageChecker struct{}

func (usageChecker) observe(p *point.Point) (bool, bool) {
	return true, p.Accessed
}

func (usageChecker) adjust(raw float64, c Correction) float64 {
	return c.Adjust(raw)
}

// seriesTracker keeps a bounded map of series and estimates how many exist.
// Confidence is capped at tracked/estimated: observing N of M series says
// nothing about the other M-N.
type seriesTracker struct {
	max       int
	estimator *cardinality.Estimator
}

func (s *seriesTracker) coverage(tracked int) float64 {
	if tracked == 0 {
		return 1
	}
	return float64(tracked) / float64(s.estimatedTotal(tracked))
}

func (s *seriesTracker) estimatedTotal(tracked int) uint64 {
	if tracked < s.max {
		return uint64(tracked)
	}
	estimate := s.estimator.Estimate()
	if estimate < uint64(s.max) {
		return uint64(s.max)
	}
	return estimate
}

func scaleByCoverage(raw, coverage float64) float64 {
	return 1 - (1-raw)*coverage
}

// constantChecker records the first value of every tracked series and flags
// any later value that differs.
type constantChecker struct {
	seriesTracker
	mu     sync.Mutex
	values map[string]float64
}

func newConstantChecker(max int) *constantChecker {
	if max <= 0 {
		max = DefaultMaxTrackedSeries
	}
	return &constantChecker{
		seriesTracker: seriesTracker{max: max, estimator: cardinality.NewEstimator()},
		values:        make(map[string]float64),
	}
}

func (c *constantChecker) observe(p *point.Point) (bool, bool) {
	key := point.SeriesKey("", p.Host, p.Tags)
	c.estimator.AddHash(xxhash.Sum64String(key))

	c.mu.Lock()
	defer c.mu.Unlock()

	expected, ok := c.values[key]
	if !ok {
		if len(c.values) >= c.max {
			return false, false
		}
		c.values[key] = p.Value
		return true, false
	}
	return true, expected != p.Value
}

func (c *constantChecker) adjust(raw float64, _ Correction) float64 {
	return scaleByCoverage(raw, c.coverage(c.tracked()))
}

func (c *constantChecker) tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

func (c *constantChecker) detail() string {
	c.mu.Lock()
	tracked := len(c.values)
	distinct := make(map[float64]struct{}, len(c.values))
	for _, v := range c.values {
		distinct[v] = struct{}{}
	}
	c.mu.Unlock()

	values := make([]float64, 0, len(distinct))
	for v := range distinct {
		values = append(values, v)
	}
	sort.Float64s(values)
	if len(values) > describedValues {
		values = values[:describedValues]
	}
	formatted := make([]string, len(values))
	for i, v := range values {
		formatted[i] = fmt.Sprintf("%.2f", v)
	}

	return fmt.Sprintf("Tracking: %d out of: %d series (estimated), observed constant values (limited to %d): [%s]",
		tracked, c.estimatedTotal(tracked), describedValues, strings.Join(formatted, ", "))
}

// staleChecker records the last timestamp of every tracked series and flags
// points newer than StaleAfter.
type staleChecker struct {
	seriesTracker
	now      meter.Clock
	mu       sync.Mutex
	lastSeen map[string]int64
}

func newStaleChecker(max int, now meter.Clock) *staleChecker {
	if max <= 0 {
		max = DefaultMaxTrackedSeries
	}
	if now == nil {
		now = time.Now
	}
	return &staleChecker{
		seriesTracker: seriesTracker{max: max, estimator: cardinality.NewEstimator()},
		now:           now,
		lastSeen:      make(map[string]int64),
	}
}

func (c *staleChecker) observe(p *point.Point) (bool, bool) {
	key := point.SeriesKey("", p.Host, p.Tags)
	c.estimator.AddHash(xxhash.Sum64String(key))

	c.mu.Lock()
	if _, ok := c.lastSeen[key]; !ok && len(c.lastSeen) >= c.max {
		c.mu.Unlock()
		return false, false
	}
	c.lastSeen[key] = p.Timestamp
	c.mu.Unlock()

	cutoff := c.now().Add(-StaleAfter).UnixMilli()
	return true, p.Timestamp > cutoff
}

func (c *staleChecker) adjust(raw float64, _ Correction) float64 {
	c.mu.Lock()
	tracked := len(c.lastSeen)
	c.mu.Unlock()
	return scaleByCoverage(raw, c.coverage(tracked))
}
