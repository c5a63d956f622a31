package telemetry

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/framefind/framefind/internal/retrieval"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	require.NoError(t, InitTelemetrySchema(db))

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewSQLiteMetricsStore_RequiresDB(t *testing.T) {
	_, err := NewSQLiteMetricsStore(nil)
	assert.Error(t, err)
}

func TestSQLiteMetricsStore_ModeCounts(t *testing.T) {
	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)

	counts := map[retrieval.Mode]int64{
		retrieval.ModeMultiChannel: 10,
		retrieval.ModeHybrid:       5,
		retrieval.ModeLexicalOnly:  2,
	}
	require.NoError(t, store.SaveModeCounts("2026-08-24", counts))

	got, err := store.GetModeCounts("2026-08-24", "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, counts, got)
}

func TestSQLiteMetricsStore_ModeCountsAccumulate(t *testing.T) {
	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.SaveModeCounts("2026-08-24", map[retrieval.Mode]int64{retrieval.ModeHybrid: 3}))
	require.NoError(t, store.SaveModeCounts("2026-08-24", map[retrieval.Mode]int64{retrieval.ModeHybrid: 4}))

	got, err := store.GetModeCounts("2026-08-24", "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got[retrieval.ModeHybrid])
}

func TestSQLiteMetricsStore_ModeCountsDateRange(t *testing.T) {
	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.SaveModeCounts("2026-08-22", map[retrieval.Mode]int64{retrieval.ModeHybrid: 1}))
	require.NoError(t, store.SaveModeCounts("2026-08-23", map[retrieval.Mode]int64{retrieval.ModeHybrid: 2}))
	require.NoError(t, store.SaveModeCounts("2026-08-24", map[retrieval.Mode]int64{retrieval.ModeHybrid: 4}))

	got, err := store.GetModeCounts("2026-08-23", "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got[retrieval.ModeHybrid])
}

func TestSQLiteMetricsStore_TermCounts(t *testing.T) {
	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.UpsertTermCounts(map[string]int64{"ocean": 5, "storm": 2}))
	require.NoError(t, store.UpsertTermCounts(map[string]int64{"ocean": 3}))

	terms, err := store.GetTopTerms(10)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, TermCount{Term: "ocean", Count: 8}, terms[0])
	assert.Equal(t, TermCount{Term: "storm", Count: 2}, terms[1])
}

func TestSQLiteMetricsStore_TermCountsEmptyInput(t *testing.T) {
	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)
	assert.NoError(t, store.UpsertTermCounts(nil))
}

func TestSQLiteMetricsStore_LatencyCounts(t *testing.T) {
	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)

	counts := map[LatencyBucket]int64{BucketP10: 20, BucketP50: 8, BucketP1000: 1}
	require.NoError(t, store.SaveLatencyCounts("2026-08-24", counts))
	require.NoError(t, store.SaveLatencyCounts("2026-08-24", map[LatencyBucket]int64{BucketP10: 5}))

	got, err := store.GetLatencyCounts("2026-08-24", "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, int64(25), got[BucketP10])
	assert.Equal(t, int64(8), got[BucketP50])
	assert.Equal(t, int64(1), got[BucketP1000])
}

func TestSQLiteMetricsStore_ChannelStats(t *testing.T) {
	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)

	stats := map[retrieval.Channel]ChannelStats{
		retrieval.ChannelTranscript: {Queries: 4, EmptyCount: 1, TotalLatency: 80 * time.Millisecond},
		retrieval.ChannelLexical:    {Queries: 4, EmptyCount: 0, TotalLatency: 12 * time.Millisecond},
	}
	require.NoError(t, store.SaveChannelStats("2026-08-24", stats))
	require.NoError(t, store.SaveChannelStats("2026-08-24", map[retrieval.Channel]ChannelStats{
		retrieval.ChannelTranscript: {Queries: 2, EmptyCount: 2, TotalLatency: 40 * time.Millisecond},
	}))

	got, err := store.GetChannelStats("2026-08-24", "2026-08-24")
	require.NoError(t, err)

	tr := got[retrieval.ChannelTranscript]
	assert.Equal(t, int64(6), tr.Queries)
	assert.Equal(t, int64(3), tr.EmptyCount)
	assert.Equal(t, 120*time.Millisecond, tr.TotalLatency)
	assert.Equal(t, 20*time.Millisecond, tr.AvgLatency())

	assert.Equal(t, int64(4), got[retrieval.ChannelLexical].Queries)
}

func TestSQLiteMetricsStore_ChannelStatsEmptyInput(t *testing.T) {
	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)
	assert.NoError(t, store.SaveChannelStats("2026-08-24", nil))
}

func TestCollector_FlushToStore(t *testing.T) {
	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)

	c := NewCollectorWithConfig(store, Config{FlushInterval: 0})
	c.RecordQuery(retrieval.QueryStats{
		Query:        "harbor at dawn",
		Mode:         retrieval.ModeHybrid,
		FusionMethod: retrieval.FusionMinMaxWeightedMean,
		Latency:      30 * time.Millisecond,
		ResultCount:  2,
		ChannelLatencies: map[retrieval.Channel]time.Duration{
			retrieval.ChannelTranscript: 15 * time.Millisecond,
		},
		ChannelCounts: map[retrieval.Channel]int{retrieval.ChannelTranscript: 2},
	})
	require.NoError(t, c.Close())

	today := time.Now().Format("2006-01-02")
	modes, err := store.GetModeCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), modes[retrieval.ModeHybrid])

	terms, err := store.GetTopTerms(10)
	require.NoError(t, err)
	assert.NotEmpty(t, terms)

	channels, err := store.GetChannelStats(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), channels[retrieval.ChannelTranscript].Queries)
}
