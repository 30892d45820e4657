// Package meter implements exponentially-weighted rate meters.
//
// A Meter tracks the mean rate of events since it was created plus
// 1, 5 and 15 minute exponentially-weighted moving averages, ticked every
// five seconds. Marking never blocks: counters are atomic and the moving
// averages are ticked lazily by whichever caller wins a compare-and-swap on
// the last tick time.
package meter

import (
	"math"
	"sync/atomic"
	"time"
)

// TickInterval is how often the moving averages decay.
const TickInterval = 5 * time.Second

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Meter measures the rate of events.
type Meter struct {
	now      Clock
	start    int64 // unix nanos
	lastTick atomic.Int64
	count    atomic.Int64

	m1  *ewma
	m5  *ewma
	m15 *ewma
}

// New creates a meter started at the current clock time. A nil clock uses time.Now.
func New(now Clock) *Meter {
	if now == nil {
		now = time.Now
	}
	start := now().UnixNano()
	m := &Meter{
		now:   now,
		start: start,
		m1:    newEWMA(1),
		m5:    newEWMA(5),
		m15:   newEWMA(15),
	}
	m.lastTick.Store(start)
	return m
}

// Mark records n events.
func (m *Meter) Mark(n int64) {
	m.tickIfNecessary()
	m.count.Add(n)
	m.m1.update(n)
	m.m5.update(n)
	m.m15.update(n)
}

// Count returns the number of events marked.
func (m *Meter) Count() int64 {
	return m.count.Load()
}

// MeanRate returns events per second since the meter was created.
func (m *Meter) MeanRate() float64 {
	count := m.count.Load()
	if count == 0 {
		return 0
	}
	elapsed := time.Duration(m.now().UnixNano() - m.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(count) / elapsed
}

// Rate1 returns the one-minute moving average rate in events per second.
func (m *Meter) Rate1() float64 {
	m.tickIfNecessary()
	return m.m1.rate()
}

// Rate5 returns the five-minute moving average rate in events per second.
func (m *Meter) Rate5() float64 {
	m.tickIfNecessary()
	return m.m5.rate()
}

// Rate15 returns the fifteen-minute moving average rate in events per second.
func (m *Meter) Rate15() float64 {
	m.tickIfNecessary()
	return m.m15.rate()
}

func (m *Meter) tickIfNecessary() {
	old := m.lastTick.Load()
	now := m.now().UnixNano()
	age := now - old
	interval := int64(TickInterval)
	if age <= interval {
		return
	}
	// Only the caller that advances lastTick performs the ticks.
	newTick := now - age%interval
	if !m.lastTick.CompareAndSwap(old, newTick) {
		return
	}
	for i := int64(0); i < age/interval; i++ {
		m.m1.tick()
		m.m5.tick()
		m.m15.tick()
	}
}

// ewma is an exponentially-weighted moving average of a per-second rate.
type ewma struct {
	alpha       float64
	uncounted   atomic.Int64
	rateBits    atomic.Uint64
	initialized atomic.Bool
}

func newEWMA(minutes float64) *ewma {
	interval := TickInterval.Seconds()
	return &ewma{alpha: 1 - math.Exp(-interval/60/minutes)}
}

func (e *ewma) update(n int64) {
	e.uncounted.Add(n)
}

func (e *ewma) tick() {
	count := e.uncounted.Swap(0)
	instant := float64(count) / TickInterval.Seconds()
	if e.initialized.Load() {
		current := math.Float64frombits(e.rateBits.Load())
		e.rateBits.Store(math.Float64bits(current + e.alpha*(instant-current)))
		return
	}
	e.rateBits.Store(math.Float64bits(instant))
	e.initialized.Store(true)
}

func (e *ewma) rate() float64 {
	return math.Float64frombits(e.rateBits.Load())
}
