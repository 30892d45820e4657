// Package engine runs the tier ladder: it routes points and new hypotheses to
// tiers, moves hypotheses between tiers as their violation rates evolve, and
// publishes recommendations once per generation.
//
// Each generation has three phases separated by a sleep of GenerationTime:
//
//  1. full evaluation: every hypothesis scores every point routed to its tier
//  2. ranked testing: tiers are rebalanced and sorted, first match wins
//  3. trimming: tiers are rebalanced again and low-rate hypotheses trimmed,
//     then a report is built and every hypothesis ages by one
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nicktill/tinytrim/pkg/hypothesis"
	"github.com/nicktill/tinytrim/pkg/point"
	"github.com/nicktill/tinytrim/pkg/report"
	"github.com/nicktill/tinytrim/pkg/tier"
)

// ErrFeedDisconnected is recorded when a restarted feed is still not connected.
var ErrFeedDisconnected = errors.New("feed still disconnected after restart")

// Source is the point stream feeding the engine.
type Source interface {
	Start() error
	Stop() error
	Connected() bool
}

// ReconnectRecorder observes reconnect outcomes (see monitor.FeedMonitor).
type ReconnectRecorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Engine is the tiered hypothesis manager.
type Engine struct {
	cfg   Config
	tiers []*tier.Manager

	source     Source
	publishers []report.Publisher
	recorder   ReconnectRecorder

	// ladderMu serializes offers with moves between tiers, so a rule is
	// never live in two tiers at once
	ladderMu sync.Mutex
	// dedup remembers recently offered rules; hits refresh the entry
	dedup *expirable.LRU[hypothesis.Key, struct{}]

	ignore     atomic.Bool
	backends   atomic.Int64
	generation atomic.Int64
	latest     atomic.Pointer[report.Report]

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource sets the stream the engine starts and reconnects.
func WithSource(s Source) Option {
	return func(e *Engine) { e.source = s }
}

// WithPublishers adds report publishers.
func WithPublishers(p ...report.Publisher) Option {
	return func(e *Engine) { e.publishers = append(e.publishers, p...) }
}

// WithReconnectRecorder sets the observer of reconnect outcomes.
func WithReconnectRecorder(r ReconnectRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an engine with one tier per configured confidence.
// Points and hypotheses are ignored until Run finishes warming up.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:   cfg,
		dedup: expirable.NewLRU[hypothesis.Key, struct{}](cfg.DedupSize, nil, cfg.DedupTTL),
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, confidence := range cfg.Tiers {
		e.tiers = append(e.tiers, tier.New(cfg.MaxHypotheses, confidence, cfg.Correction))
	}
	e.ignore.Store(true)
	e.backends.Store(int64(cfg.BackendCount))

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run warms up, then loops through generations until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.setFullEvaluation(true)
	if e.source != nil {
		if err := e.source.Start(); err != nil {
			log.Printf("Feed failed to start: %v", err)
		}
		defer func() {
			if err := e.source.Stop(); err != nil {
				log.Printf("Failed to stop feed: %v", err)
			}
		}()
	}

	log.Printf("Warming up for %v", e.cfg.WarmUp)
	if err := e.sleep(ctx, e.cfg.WarmUp); err != nil {
		return nil
	}
	e.ignore.Store(false)

	for {
		if err := e.ensureConnected(ctx); err != nil {
			break
		}

		log.Println("Evaluating all hypotheses to collect non-cumulative rate data")
		e.beginFullEvaluation()
		if err := e.sleep(ctx, e.cfg.GenerationTime); err != nil {
			break
		}

		log.Println("Begin ranked hypothesis testing")
		e.beginRankedTesting()
		if err := e.sleep(ctx, e.cfg.GenerationTime); err != nil {
			break
		}

		log.Println("Trimming recommendations")
		e.trimTiers()
		e.publish(ctx, e.BuildReport())
		e.ageTiers()
	}

	log.Println("Engine stopped")
	return nil
}

// ConsumePoint routes a point down the tier ladder, stopping at the first tier
// that admits it. Returns whether any tier admitted it.
func (e *Engine) ConsumePoint(p *point.Point) bool {
	if e.ignore.Load() {
		return false
	}
	pointsConsumed.Inc()

	depth := e.cfg.RankDepth()
	for _, t := range e.tiers {
		if t.ConsumePoint(p, depth) {
			pointsAdmitted.WithLabelValues(tierLabel(t.Confidence())).Inc()
			return true
		}
	}
	return false
}

// OfferHypothesis seats a new hypothesis in the strictest tier that takes it.
// Repeat offers inside the dedup window and rules already live in any tier are
// discarded.
func (e *Engine) OfferHypothesis(h *hypothesis.Hypothesis) bool {
	if e.ignore.Load() {
		hypothesesOffered.WithLabelValues(offerIgnored).Inc()
		return false
	}

	key := h.Key()

	e.ladderMu.Lock()
	defer e.ladderMu.Unlock()

	if _, ok := e.dedup.Get(key); ok {
		e.dedup.Add(key, struct{}{})
		hypothesesOffered.WithLabelValues(offerDeduplicated).Inc()
		return false
	}
	e.dedup.Add(key, struct{}{})

	for _, t := range e.tiers {
		if t.Contains(key) {
			hypothesesOffered.WithLabelValues(offerLive).Inc()
			return false
		}
	}
	return e.seat(h)
}

// seat walks the ladder strictest first and stops at the first tier that takes
// h or already holds its rule.
// MUST be called with ladderMu held
func (e *Engine) seat(h *hypothesis.Hypothesis) bool {
	for _, t := range e.tiers {
		accepted, live := t.Place(h)
		switch {
		case accepted:
			hypothesesOffered.WithLabelValues(offerAccepted).Inc()
			return true
		case live:
			hypothesesOffered.WithLabelValues(offerLive).Inc()
			return false
		}
	}
	hypothesesOffered.WithLabelValues(offerRefused).Inc()
	return false
}

// SetBackendCount updates the number of backends the sample is drawn from.
func (e *Engine) SetBackendCount(n int) {
	if n < 0 {
		n = 0
	}
	e.backends.Store(int64(n))
}

// BackendCount returns the current backend count.
func (e *Engine) BackendCount() int { return int(e.backends.Load()) }

// Accepting reports whether warm-up is over.
func (e *Engine) Accepting() bool { return !e.ignore.Load() }

// Generation returns how many generations have completed.
func (e *Engine) Generation() int64 { return e.generation.Load() }

// Latest returns the most recent report, or nil before the first one.
func (e *Engine) Latest() *report.Report { return e.latest.Load() }

// Config returns the engine parameters.
func (e *Engine) Config() Config { return e.cfg }

// Tiers returns a summary of every tier, strictest first.
func (e *Engine) Tiers() []tier.Summary {
	out := make([]tier.Summary, len(e.tiers))
	for i, t := range e.tiers {
		out[i] = t.Summary()
	}
	return out
}

// Tier returns the tier at index i.
func (e *Engine) Tier(i int) (*tier.Manager, error) {
	if i < 0 || i >= len(e.tiers) {
		return nil, fmt.Errorf("tier %d out of range [0, %d)", i, len(e.tiers))
	}
	return e.tiers[i], nil
}

// ensureConnected restarts a disconnected source at a fixed interval until it
// reports connected or ctx is cancelled.
func (e *Engine) ensureConnected(ctx context.Context) error {
	if e.source == nil {
		return ctx.Err()
	}

	for attempt := 1; !e.source.Connected(); attempt++ {
		log.Printf("Feed disconnected, reconnecting (attempt %d)...", attempt)
		feedReconnects.Inc()

		if err := e.source.Stop(); err != nil {
			log.Printf("Failed to stop feed: %v", err)
		}
		err := e.source.Start()
		if sleepErr := e.sleep(ctx, e.cfg.ReconnectInterval); sleepErr != nil {
			return sleepErr
		}
		if err == nil && !e.source.Connected() {
			err = ErrFeedDisconnected
		}
		if err != nil {
			log.Printf("Reconnect failed: %v", err)
			if e.recorder != nil {
				e.recorder.RecordFailure(err)
			}
		}
	}

	if e.recorder != nil {
		e.recorder.RecordSuccess()
	}
	return ctx.Err()
}

func (e *Engine) publish(ctx context.Context, r *report.Report) {
	e.latest.Store(r)
	for _, p := range e.publishers {
		if err := p.Publish(ctx, r); err != nil {
			log.Printf("Failed to publish report %s: %v", r.ID, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
