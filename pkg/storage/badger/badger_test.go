package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrim/pkg/report"
	"github.com/nicktill/tinytrim/pkg/storage"
)

func testReport(id string, at time.Time) *report.Report {
	return &report.Report{
		ID:          id,
		Generation:  1,
		GeneratedAt: at,
		Tiers: []report.TierReport{{
			Confidence:        0.001,
			ConfidencePercent: 99.9,
			Recommendations: []report.Recommendation{
				{Rank: 1, Description: "Drop metric: app.cpu.idle", Savings15m: 12.5, TTL: 4 * time.Minute},
			},
		}},
	}
}

func newStore(t *testing.T) *Storage {
	t.Helper()
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStorage_WriteAndQuery(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Write(ctx, testReport(id, base.Add(time.Duration(i)*time.Minute))))
	}

	results, err := store.Query(ctx, storage.QueryRequest{Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.Equal(t, "d", results[0].ID, "newest first")
	require.Equal(t, "a", results[3].ID)
	require.Equal(t, 4*time.Minute, results[0].Tiers[0].Recommendations[0].TTL)

	// Inclusive range, limited
	results, err = store.Query(ctx, storage.QueryRequest{
		Start: base.Add(time.Minute),
		End:   base.Add(2 * time.Minute),
		Limit: 5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "c", results[0].ID)
	require.Equal(t, "b", results[1].ID)

	results, err = store.Query(ctx, storage.QueryRequest{Start: base, End: base.Add(time.Hour), Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "d", results[0].ID)

	require.ErrorIs(t, store.Write(ctx, nil), storage.ErrNilReport)
}

func TestBadgerStorage_Delete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Write(ctx, testReport("old-1", now.Add(-3*time.Hour))))
	require.NoError(t, store.Write(ctx, testReport("old-2", now.Add(-2*time.Hour))))
	require.NoError(t, store.Write(ctx, testReport("new", now)))

	removed, err := store.Delete(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	removed, err = store.Delete(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.TotalReports)
	require.Equal(t, now.UnixNano(), stats.NewestReport.UnixNano())
}

func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now()

	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, testReport("kept", now)))
	require.NoError(t, store.Close())

	store, err = New(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	results, err := store.Query(ctx, storage.QueryRequest{Start: now.Add(-time.Minute), End: now.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "kept", results[0].ID)
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.Write(ctx, testReport("a", time.Now())), context.Canceled)
	_, err := store.Query(ctx, storage.QueryRequest{End: time.Now()})
	require.ErrorIs(t, err, context.Canceled)
}

func TestKeyOrdering(t *testing.T) {
	a := makeKey(time.Unix(100, 0), "z")
	b := makeKey(time.Unix(101, 0), "a")
	require.Less(t, string(a), string(b))

	ts, ok := parseKey(b)
	require.True(t, ok)
	require.Equal(t, int64(101), ts.Unix())

	_, ok = parseKey([]byte("short"))
	require.False(t, ok)
}
