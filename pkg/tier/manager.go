// Package tier implements a single confidence tier of hypotheses.
//
// A Manager holds a bounded pool of hypotheses that all share one tolerated
// violation rate. Point scoring walks a copy-on-write snapshot of the pool and
// never takes the tier lock; structural changes (offer, rebalance, sort, trim,
// moves between tiers) serialize on the lock and publish a new snapshot.
package tier

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/montanaflynn/stats"

	"github.com/nicktill/tinytrim/pkg/hypothesis"
	"github.com/nicktill/tinytrim/pkg/point"
)

// CatchAllConfidence is the confidence at and above which a tier is the catch-all.
const CatchAllConfidence = 1.0

// Manager is one confidence tier.
type Manager struct {
	confidence float64
	max        int
	correction hypothesis.Correction

	// mu serializes structural changes; readers use live directly
	mu        sync.Mutex
	live      atomic.Pointer[[]*hypothesis.Hypothesis]
	blacklist map[hypothesis.Key]struct{} // guarded by mu

	dropped atomic.Int64
	full    atomic.Bool
}

// New creates an empty tier that tolerates violation rates up to confidence.
func New(maxHypotheses int, confidence float64, correction hypothesis.Correction) *Manager {
	m := &Manager{
		confidence: confidence,
		max:        maxHypotheses,
		correction: correction,
		blacklist:  make(map[hypothesis.Key]struct{}),
	}
	empty := []*hypothesis.Hypothesis{}
	m.live.Store(&empty)
	return m
}

// Confidence returns the tolerated violation rate.
func (m *Manager) Confidence() float64 { return m.confidence }

// IsCatchAll reports whether this is the most lenient, overflow tier.
func (m *Manager) IsCatchAll() bool { return m.confidence >= CatchAllConfidence }

// Correction returns the usage look-back correction applied to violation rates.
func (m *Manager) Correction() hypothesis.Correction { return m.correction }

// Hypotheses returns the live hypotheses in current sort order.
// The slice is a snapshot and must not be modified.
func (m *Manager) Hypotheses() []*hypothesis.Hypothesis {
	return *m.live.Load()
}

// Len returns the number of live hypotheses.
func (m *Manager) Len() int { return len(*m.live.Load()) }

// BlacklistLen returns the number of rules permanently rejected from this tier.
func (m *Manager) BlacklistLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blacklist)
}

// Blacklisted reports whether a rule has been rejected from this tier.
func (m *Manager) Blacklisted(key hypothesis.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blacklist[key]
	return ok
}

// Contains reports whether a hypothesis with this identity is live in the tier.
func (m *Manager) Contains(key hypothesis.Key) bool {
	for _, h := range *m.live.Load() {
		if h.Key() == key {
			return true
		}
	}
	return false
}

// DroppedCount returns offers refused since the last ResetDropped.
func (m *Manager) DroppedCount() int64 { return m.dropped.Load() }

// ResetDropped zeroes the dropped counter.
func (m *Manager) ResetDropped() { m.dropped.Store(0) }

// SetFullEvaluation switches between full evaluation (every hypothesis scores
// every point) and ranked evaluation (first match wins).
func (m *Manager) SetFullEvaluation(full bool) { m.full.Store(full) }

// FullEvaluation reports the current evaluation mode.
func (m *Manager) FullEvaluation() bool { return m.full.Load() }

// Offer inserts a fresh copy of h with age 0. Blacklisted rules and offers to a
// full tier are refused and counted as dropped. A rule that is already live is
// refused without counting.
func (m *Manager) Offer(h *hypothesis.Hypothesis) bool {
	accepted, _ := m.Place(h)
	return accepted
}

// Place is Offer that also reports whether the rule was already live here, so
// a caller walking several tiers can tell "taken" from "refused".
func (m *Manager) Place(h *hypothesis.Hypothesis) (accepted, live bool) {
	key := h.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	current := *m.live.Load()
	if indexOf(current, key) >= 0 {
		return false, true
	}
	if _, ok := m.blacklist[key]; ok {
		m.dropped.Add(1)
		return false, false
	}
	if len(current) >= m.max {
		m.dropped.Add(1)
		return false, false
	}

	m.storeLocked(append(clone(current), h.Clone()))
	return true, false
}

// Promote moves h into this tier from a more lenient one, clearing any
// blacklist entry it had here. Statistics and age are kept.
func (m *Manager) Promote(h *hypothesis.Hypothesis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blacklist, h.Key())
	m.insertLocked(h)
}

// Demote moves h into this tier from a stricter one. Statistics, age and this
// tier's blacklist are kept.
func (m *Manager) Demote(h *hypothesis.Hypothesis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(h)
}

// insertLocked appends h unless its rule is already live. Moves bypass capacity.
// MUST be called with lock held
func (m *Manager) insertLocked(h *hypothesis.Hypothesis) {
	current := *m.live.Load()
	if indexOf(current, h.Key()) >= 0 {
		return
	}
	m.storeLocked(append(clone(current), h))
}

// ConsumePoint scores a point against the tier and reports whether it was
// admitted: matched by a hypothesis ranked within rankDepth.
//
// In full evaluation every hypothesis sees the point. In ranked evaluation the
// first matching hypothesis takes the point and the rest never see it.
func (m *Manager) ConsumePoint(p *point.Point, rankDepth int) bool {
	current := *m.live.Load()

	if m.full.Load() {
		admitted := false
		for i, h := range current {
			if h.ProcessPoint(p) && i < rankDepth {
				admitted = true
			}
		}
		return admitted
	}

	for i, h := range current {
		if h.ProcessPoint(p) {
			return i < rankDepth
		}
	}
	return false
}

// SortByInstantaneousRate orders the tier by instantaneous rate, highest first.
// Rates are read once before sorting; scoring may keep marking meters while the
// sort runs.
func (m *Manager) SortByInstantaneousRate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := *m.live.Load()
	type ranked struct {
		h    *hypothesis.Hypothesis
		rate float64
	}
	entries := make([]ranked, len(current))
	for i, h := range current {
		entries[i] = ranked{h: h, rate: h.InstantaneousRate()}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].rate > entries[j].rate
	})

	sorted := make([]*hypothesis.Hypothesis, len(entries))
	for i, e := range entries {
		sorted[i] = e.h
	}
	m.storeLocked(sorted)
}

// Result is the outcome of a rebalance.
type Result struct {
	// Rejected exceeded this tier's confidence and are now blacklisted here.
	Rejected []*hypothesis.Hypothesis

	// WithinPreviousBound met the stricter previous tier's confidence.
	WithinPreviousBound []*hypothesis.Hypothesis
}

// Rebalance removes hypotheses that no longer belong in this tier.
// previousConfidence is the stricter neighbour's confidence; pass a negative
// value for the strictest tier.
func (m *Manager) Rebalance(previousConfidence float64) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	current := *m.live.Load()
	kept := make([]*hypothesis.Hypothesis, 0, len(current))
	for _, h := range current {
		v := h.ViolationRate(m.correction)
		switch {
		case v > m.confidence:
			m.blacklist[h.Key()] = struct{}{}
			res.Rejected = append(res.Rejected, h)
		case v <= previousConfidence:
			res.WithinPreviousBound = append(res.WithinPreviousBound, h)
		default:
			kept = append(kept, h)
		}
	}

	if len(kept) != len(current) {
		m.storeLocked(kept)
	}
	return res
}

// Trim removes mature hypotheses (age > 1) whose instantaneous rate is below
// the mean of mature hypotheses, unless that would leave fewer than
// minRecommendations live. Returns how many were removed.
func (m *Manager) Trim(minRecommendations int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := *m.live.Load()
	rates := make(map[*hypothesis.Hypothesis]float64, len(current))
	var mature stats.Float64Data
	for _, h := range current {
		if h.Age() > 1 {
			r := h.InstantaneousRate()
			rates[h] = r
			mature = append(mature, r)
		}
	}
	if len(mature) == 0 {
		return 0
	}
	mean, err := stats.Mean(mature)
	if err != nil {
		return 0
	}

	kept := make([]*hypothesis.Hypothesis, 0, len(current))
	for _, h := range current {
		if r, ok := rates[h]; ok && r < mean {
			continue
		}
		kept = append(kept, h)
	}

	removed := len(current) - len(kept)
	if removed == 0 || len(kept) < minRecommendations {
		return 0
	}
	m.storeLocked(kept)
	return removed
}

// IncrementAge ages every live hypothesis by one generation.
func (m *Manager) IncrementAge() {
	for _, h := range *m.live.Load() {
		h.IncrementAge()
	}
}

// ResetInstantaneousRates starts a new rate cycle for every live hypothesis.
func (m *Manager) ResetInstantaneousRates() {
	for _, h := range *m.live.Load() {
		h.ResetCycle()
	}
}

// OverCapacity returns how many live hypotheses exceed the tier's capacity.
// Promotions and demotions bypass the capacity check, so a tier can overflow
// until the next trim.
func (m *Manager) OverCapacity() int {
	if n := m.Len() - m.max; n > 0 {
		return n
	}
	return 0
}

// Summary is a point-in-time view of the tier.
type Summary struct {
	Confidence     float64 `json:"confidence"`
	Size           int     `json:"size"`
	Capacity       int     `json:"capacity"`
	OverCapacity   int     `json:"over_capacity"`
	Blacklisted    int     `json:"blacklisted"`
	Dropped        int64   `json:"dropped"`
	FullEvaluation bool    `json:"full_evaluation"`
	CatchAll       bool    `json:"catch_all"`
}

// Summary captures the tier's current size and counters.
func (m *Manager) Summary() Summary {
	return Summary{
		Confidence:     m.confidence,
		Size:           m.Len(),
		Capacity:       m.max,
		OverCapacity:   m.OverCapacity(),
		Blacklisted:    m.BlacklistLen(),
		Dropped:        m.DroppedCount(),
		FullEvaluation: m.FullEvaluation(),
		CatchAll:       m.IsCatchAll(),
	}
}

// storeLocked publishes a new snapshot.
// MUST be called with lock held
func (m *Manager) storeLocked(list []*hypothesis.Hypothesis) {
	m.live.Store(&list)
}

func clone(list []*hypothesis.Hypothesis) []*hypothesis.Hypothesis {
	out := make([]*hypothesis.Hypothesis, len(list), len(list)+1)
	copy(out, list)
	return out
}

func indexOf(list []*hypothesis.Hypothesis, key hypothesis.Key) int {
	for i, h := range list {
		if h.Key() == key {
			return i
		}
	}
	return -1
}
