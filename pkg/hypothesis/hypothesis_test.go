package hypothesis

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrim/pkg/point"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func pt(metric, host string, accessed bool, tags ...string) *point.Point {
	p := &point.Point{Metric: metric, Host: host, Accessed: accessed, Tags: point.Tags{}}
	for i := 0; i+1 < len(tags); i += 2 {
		p.Tags.Add(tags[i], tags[i+1])
	}
	return p
}

func TestHypothesis_IdentityIgnoresStatistics(t *testing.T) {
	a := OmitExactMetric("app.cpu.idle")
	b := OmitExactMetric("app.cpu.idle")

	for i := 0; i < 10; i++ {
		a.ProcessPoint(pt("app.cpu.idle", "web-1", i%2 == 0))
	}

	require.True(t, a.Equal(b))
	require.Equal(t, a.Key(), b.Key())

	seen := map[Key]bool{a.Key(): true}
	require.True(t, seen[b.Key()], "equal hypotheses must hash identically")

	require.False(t, a.Equal(OmitExactMetric("app.cpu.user")))
	require.False(t, OmitMetricPrefix("app.").Equal(OmitExactMetric("app.")), "kind is part of identity")
	require.True(t, MetricIsConstant("m", 10).Equal(MetricIsConstant("m", 20)), "tracking bound is not identity")
}

func TestHypothesis_Matching(t *testing.T) {
	tests := []struct {
		name  string
		h     *Hypothesis
		point *point.Point
		want  bool
	}{
		{"exact metric", OmitExactMetric("a.b"), pt("a.b", "h", false), true},
		{"exact metric miss", OmitExactMetric("a.b"), pt("a.bc", "h", false), false},
		{"prefix", OmitMetricPrefix("a."), pt("a.b.c", "h", false), true},
		{"prefix miss", OmitMetricPrefix("a."), pt("ab.c", "h", false), false},
		{"tag", OmitTag("env", "dev"), pt("x", "h", false, "env", "prod", "env", "dev"), true},
		{"tag miss", OmitTag("env", "dev"), pt("x", "h", false, "env", "prod"), false},
		{"tag source is host", OmitTag("source", "web-1"), pt("x", "web-1", false), true},
		{"metric and tag", OmitMetricAndTag("x", "env", "dev"), pt("x", "h", false, "env", "dev"), true},
		{"metric and tag wrong metric", OmitMetricAndTag("x", "env", "dev"), pt("y", "h", false, "env", "dev"), false},
		{"metric and source", OmitMetricAndTag("x", "source", "web-1"), pt("x", "web-1", false), true},
		{"prefix and tag", OmitMetricPrefixAndTag("a.", "env", "dev"), pt("a.b", "h", false, "env", "dev"), true},
		{"prefix and tag miss", OmitMetricPrefixAndTag("a.", "env", "dev"), pt("a.b", "h", false), false},
		{"host prefix", OmitHostPrefixAndMetric("web-", "x"), pt("x", "web-7", false), true},
		{"host prefix miss", OmitHostPrefixAndMetric("web-", "x"), pt("x", "db-7", false), false},
		{"constant", MetricIsConstant("x", 10), pt("x", "h", false), true},
		{"stale", MetricIsAlwaysOld("x"), pt("x", "h", false), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.h.ProcessPoint(tt.point))
			if tt.want {
				require.Equal(t, int64(1), tt.h.Hits())
			} else {
				require.Zero(t, tt.h.Hits())
			}
		})
	}
}

func TestHypothesis_AccessedPointsAreViolations(t *testing.T) {
	h := OmitTag("env", "dev")
	h.ProcessPoint(pt("x", "h", true, "env", "dev"))
	h.ProcessPoint(pt("x", "h", false, "env", "dev"))
	h.ProcessPoint(pt("x", "h", true, "env", "prod")) // no match

	require.Equal(t, int64(2), h.Hits())
	require.Equal(t, int64(1), h.Violations())
	require.InDelta(t, 0.5, h.RawViolationRate(), 1e-9)
}

func TestHypothesis_NoHitsIsNotViolating(t *testing.T) {
	h := OmitExactMetric("never.seen")
	require.Zero(t, h.RawViolationRate())
	require.Zero(t, h.ViolationRate(Correction{LookbackDays: 7, FPPRate: 0.01}))
	require.Zero(t, MetricIsConstant("never.seen", 10).ViolationRate(Correction{}))
}

func TestHypothesis_ProjectedSavings(t *testing.T) {
	clock := newFakeClock()
	h := OmitExactMetric("app.cpu.idle", WithClock(clock.Now))

	for i := 0; i < 25; i++ {
		h.ProcessPoint(pt("app.cpu.idle", "web-1", false))
	}
	clock.Advance(10 * time.Second)

	require.InDelta(t, 2.5, h.InstantaneousRate(), 1e-9)
	require.InDelta(t, 1000.0, h.ProjectedSavings(false, 4, 0.01), 1e-6)
	require.InDelta(t, 1000.0, h.ProjectedSavings(true, 4, 0.01), 1e-6)
	require.Zero(t, h.ProjectedSavings(false, 4, 0))
}

func TestCorrection_Adjust(t *testing.T) {
	c := Correction{LookbackDays: 7, FPPRate: 0.01}

	require.InDelta(t, 0.932065, c.ExpectedAccuracy(), 1e-6)
	require.Zero(t, c.Adjust(0.0))
	require.InDelta(t, 1-0.8/0.932065, c.Adjust(0.2), 1e-6)
	require.InDelta(t, 0.142, c.Adjust(0.2), 1e-3)

	// Within the filter's expected error the rate is forgiven
	require.Zero(t, c.Adjust(0.05))

	// Without a look-back nothing is corrected
	require.InDelta(t, 0.2, Correction{}.Adjust(0.2), 1e-9)
}

func TestHypothesis_ViolationRateUsesCorrection(t *testing.T) {
	h := OmitExactMetric("x")
	for i := 0; i < 10; i++ {
		h.ProcessPoint(pt("x", "h", i < 2))
	}

	require.InDelta(t, 0.2, h.RawViolationRate(), 1e-9)
	require.InDelta(t, 1-0.8/0.932065, h.ViolationRate(Correction{LookbackDays: 7, FPPRate: 0.01}), 1e-6)
}

func TestHypothesis_ResetCycleKeepsLifetimeStatistics(t *testing.T) {
	clock := newFakeClock()
	h := OmitExactMetric("x", WithClock(clock.Now))
	h.IncrementAge()
	h.IncrementAge()

	for i := 0; i < 10; i++ {
		h.ProcessPoint(pt("x", "h", i == 0))
	}
	clock.Advance(time.Second)
	require.InDelta(t, 10.0, h.InstantaneousRate(), 1e-9)

	h.ResetCycle()
	clock.Advance(time.Second)

	require.Zero(t, h.InstantaneousRate())
	require.Equal(t, int64(10), h.Hits())
	require.Equal(t, int64(1), h.Violations())
	require.Equal(t, 2, h.Age())
	require.InDelta(t, 5.0, h.RawSavingsRate(true), 1e-9)
}

func TestHypothesis_CloneStartsFresh(t *testing.T) {
	h := OmitMetricAndTag("x", "env", "dev")
	h.ProcessPoint(pt("x", "h", true, "env", "dev"))
	h.IncrementAge()

	c := h.Clone()
	require.True(t, c.Equal(h))
	require.Zero(t, c.Hits())
	require.Zero(t, c.Violations())
	require.Zero(t, c.Age())
	require.NotSame(t, h, c)
}

func TestMetricIsConstant_FlagsChangedValues(t *testing.T) {
	h := MetricIsConstant("x", 100)

	a := pt("x", "web-1", false)
	a.Value = 1
	b := pt("x", "web-2", false)
	b.Value = 7

	require.True(t, h.ProcessPoint(a))
	require.True(t, h.ProcessPoint(b))
	require.True(t, h.ProcessPoint(a))
	require.Zero(t, h.Violations())

	changed := pt("x", "web-1", false)
	changed.Value = 2
	h.ProcessPoint(changed)

	require.Equal(t, int64(4), h.Hits())
	require.Equal(t, int64(1), h.Violations())
	require.Contains(t, h.Description(), "Tracking: 2 out of: 2 series")
	require.Contains(t, h.Description(), "[1.00, 7.00]")
}

func TestMetricIsConstant_ConfidenceScaledByCoverage(t *testing.T) {
	h := MetricIsConstant("x", 2)

	for i := 0; i < 4; i++ {
		p := pt("x", fmt.Sprintf("web-%d", i), false)
		p.Value = 1
		require.True(t, h.ProcessPoint(p), "untracked series still match")
	}

	// Only two of four series are tracked, so confidence is capped at 50%
	require.Equal(t, int64(2), h.Hits())
	require.Zero(t, h.RawViolationRate())
	require.InDelta(t, 0.5, h.ViolationRate(Correction{LookbackDays: 7, FPPRate: 0.01}), 1e-9)
}

func TestMetricIsAlwaysOld(t *testing.T) {
	clock := newFakeClock()
	h := MetricIsAlwaysOld("x", WithClock(clock.Now))

	old := pt("x", "web-1", false)
	old.Timestamp = clock.Now().Add(-2 * time.Hour).UnixMilli()
	h.ProcessPoint(old)
	require.Zero(t, h.Violations())

	fresh := pt("x", "web-1", false)
	fresh.Timestamp = clock.Now().Add(-time.Minute).UnixMilli()
	h.ProcessPoint(fresh)

	require.Equal(t, int64(2), h.Hits())
	require.Equal(t, int64(1), h.Violations())
}

func TestMetricIsAlwaysOld_ConfidenceScaledByCoverage(t *testing.T) {
	clock := newFakeClock()
	h := New(SeriesStale{Metric: "x", MaxTrackedSeries: 2}, WithClock(clock.Now))

	for i := 0; i < 4; i++ {
		p := pt("x", fmt.Sprintf("web-%d", i), false)
		p.Timestamp = clock.Now().Add(-2 * time.Hour).UnixMilli()
		require.True(t, h.ProcessPoint(p), "untracked series still match")
	}

	// Untracked series are not hits, and confidence is capped at 50%
	require.Equal(t, int64(2), h.Hits())
	require.Zero(t, h.Violations())
	require.InDelta(t, 0.5, h.ViolationRate(Correction{}), 1e-9)

	// A tracked series keeps being checked once the map is full
	fresh := pt("x", "web-0", false)
	fresh.Timestamp = clock.Now().UnixMilli()
	h.ProcessPoint(fresh)
	require.Equal(t, int64(3), h.Hits())
	require.Equal(t, int64(1), h.Violations())
}

func TestHypothesis_Descriptions(t *testing.T) {
	require.Equal(t, `Eliminate the metric: "app.cpu.idle"`, OmitExactMetric("app.cpu.idle").Description())
	require.Equal(t, `Eliminate all metrics with the tag: "env"="dev"`, OmitTag("env", "dev").Description())
	require.Equal(t, `Eliminate unused metric: "x" for host prefix: "web-"`, OmitHostPrefixAndMetric("web-", "x").Description())
	require.Equal(t, []string{"a.*", "env=dev"}, OmitMetricPrefixAndTag("a.", "env", "dev").Dimensions())
}
