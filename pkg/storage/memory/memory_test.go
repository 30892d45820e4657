package memory

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
		GeneratedAt: at,
		Tiers: []report.TierReport{{
			Confidence: 0.001,
			Recommendations: []report.Recommendation{
				{Rank: 1, Description: "Drop metric: app.cpu.idle", Savings15m: 12.5},
			},
		}},
	}
}

func TestMemoryStorage_WriteAndQuery(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	// Written out of order
	require.NoError(t, store.Write(ctx, testReport("b", base.Add(time.Minute))))
	require.NoError(t, store.Write(ctx, testReport("a", base)))
	require.NoError(t, store.Write(ctx, testReport("c", base.Add(2*time.Minute))))

	results, err := store.Query(ctx, storage.QueryRequest{Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "c", results[0].ID, "newest first")
	require.Equal(t, "a", results[2].ID)
	require.Equal(t, "Drop metric: app.cpu.idle", results[0].Tiers[0].Recommendations[0].Description)

	results, err = store.Query(ctx, storage.QueryRequest{Start: base, End: base.Add(time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestMemoryStorage_WriteCopiesReport(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()

	r := testReport("a", now)
	require.NoError(t, store.Write(ctx, r))
	r.Tiers[0].Recommendations[0].Description = "mutated"

	results, err := store.Query(ctx, storage.QueryRequest{Start: now.Add(-time.Second), End: now.Add(time.Second)})
	require.NoError(t, err)
	require.Equal(t, "Drop metric: app.cpu.idle", results[0].Tiers[0].Recommendations[0].Description)

	require.ErrorIs(t, store.Write(ctx, nil), storage.ErrNilReport)
}

func TestMemoryStorage_Overwrite(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Write(ctx, testReport("a", now)))
	updated := testReport("a", now)
	updated.Generation = 7
	require.NoError(t, store.Write(ctx, updated))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.TotalReports)
}

func TestMemoryStorage_Delete(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Write(ctx, testReport("old", now.Add(-2*time.Hour))))
	require.NoError(t, store.Write(ctx, testReport("new", now)))

	removed, err := store.Delete(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.TotalReports)
	require.True(t, stats.OldestReport.Equal(now))
	require.NotZero(t, stats.SizeBytes)
}

func TestMemoryStorage_EmptyStats(t *testing.T) {
	stats, err := New().Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.TotalReports)
	require.True(t, stats.OldestReport.IsZero())
}
