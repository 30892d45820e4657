// Package cardinality estimates the number of distinct series seen by a hypothesis.
package cardinality

import (
	"sync"

	"github.com/axiomhq/hyperloglog"
)

// Estimator is a fixed-memory distinct-count sketch (HyperLogLog, 2^14 registers).
// It is safe for concurrent use.
type Estimator struct {
	mu     sync.Mutex
	sketch *hyperloglog.Sketch
}

// NewEstimator creates an empty estimator.
func NewEstimator() *Estimator {
	return &Estimator{sketch: hyperloglog.New14()}
}

// AddHash records a pre-hashed element (see point.SeriesHash).
func (e *Estimator) AddHash(x uint64) {
	e.mu.Lock()
	e.sketch.InsertHash(x)
	e.mu.Unlock()
}

// Estimate returns the approximate number of distinct elements added.
func (e *Estimator) Estimate() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sketch.Estimate()
}
