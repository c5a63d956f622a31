package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/framefind/framefind/internal/retrieval"
)

// MetricsStore defines persistence operations for retrieval metrics.
type MetricsStore interface {
	// SaveModeCounts upserts daily retrieval mode counts.
	SaveModeCounts(date string, counts map[retrieval.Mode]int64) error

	// GetModeCounts retrieves mode counts for a date range.
	GetModeCounts(from, to string) (map[retrieval.Mode]int64, error)

	// UpsertTermCounts updates query term frequency counts.
	UpsertTermCounts(terms map[string]int64) error

	// GetTopTerms retrieves the top N terms by frequency.
	GetTopTerms(limit int) ([]TermCount, error)

	// SaveLatencyCounts upserts daily latency histogram counts.
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error

	// GetLatencyCounts retrieves latency distribution for a date range.
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	// SaveChannelStats upserts daily per-channel aggregates.
	SaveChannelStats(date string, stats map[retrieval.Channel]ChannelStats) error

	// GetChannelStats retrieves per-channel aggregates for a date range.
	GetChannelStats(from, to string) (map[retrieval.Channel]ChannelStats, error)

	// Close releases resources.
	Close() error
}

// SQLiteMetricsStore implements MetricsStore on a shared SQLite handle.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore creates a SQLite-backed metrics store. The schema
// must already exist (see InitTelemetrySchema).
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// InitTelemetrySchema creates the telemetry tables if they don't exist.
func InitTelemetrySchema(db *sql.DB) error {
	schema := `
	-- Retrieval mode frequency (aggregated daily)
	CREATE TABLE IF NOT EXISTS retrieval_mode_stats (
		date TEXT NOT NULL,
		mode TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, mode)
	);

	-- Top query terms (with frequency count)
	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Latency histogram (buckets: <10ms, 10-50ms, 50-100ms, 100-500ms, >500ms)
	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	-- Per-channel aggregates (aggregated daily)
	CREATE TABLE IF NOT EXISTS channel_stats (
		date TEXT NOT NULL,
		channel TEXT NOT NULL,
		queries INTEGER NOT NULL DEFAULT 0,
		empty_count INTEGER NOT NULL DEFAULT 0,
		total_latency_ns INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, channel)
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveModeCounts upserts daily retrieval mode counts.
func (s *SQLiteMetricsStore) SaveModeCounts(date string, counts map[retrieval.Mode]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO retrieval_mode_stats (date, mode, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, mode) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for mode, count := range counts {
		if _, err := stmt.Exec(date, string(mode), count); err != nil {
			return fmt.Errorf("insert mode count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetModeCounts retrieves mode counts for a date range.
func (s *SQLiteMetricsStore) GetModeCounts(from, to string) (map[retrieval.Mode]int64, error) {
	rows, err := s.db.Query(`
		SELECT mode, SUM(count) AS total
		FROM retrieval_mode_stats
		WHERE date >= ? AND date <= ?
		GROUP BY mode
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query mode counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[retrieval.Mode]int64)
	for rows.Next() {
		var mode string
		var count int64
		if err := rows.Scan(&mode, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[retrieval.Mode(mode)] = count
	}
	return counts, rows.Err()
}

// UpsertTermCounts updates term frequency counts.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for term, count := range terms {
		if _, err := stmt.Exec(term, count); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTopTerms retrieves the top N terms by frequency.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// SaveLatencyCounts upserts daily latency histogram counts.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for bucket, count := range counts {
		if _, err := stmt.Exec(date, string(bucket), count); err != nil {
			return fmt.Errorf("insert latency count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetLatencyCounts retrieves latency distribution for a date range.
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count) AS total
		FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// SaveChannelStats upserts daily per-channel aggregates.
func (s *SQLiteMetricsStore) SaveChannelStats(date string, stats map[retrieval.Channel]ChannelStats) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO channel_stats (date, channel, queries, empty_count, total_latency_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, channel) DO UPDATE SET
			queries = queries + excluded.queries,
			empty_count = empty_count + excluded.empty_count,
			total_latency_ns = total_latency_ns + excluded.total_latency_ns
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for channel, cs := range stats {
		if _, err := stmt.Exec(date, string(channel), cs.Queries, cs.EmptyCount, cs.TotalLatency.Nanoseconds()); err != nil {
			return fmt.Errorf("upsert channel stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetChannelStats retrieves per-channel aggregates for a date range.
func (s *SQLiteMetricsStore) GetChannelStats(from, to string) (map[retrieval.Channel]ChannelStats, error) {
	rows, err := s.db.Query(`
		SELECT channel, SUM(queries), SUM(empty_count), SUM(total_latency_ns)
		FROM channel_stats
		WHERE date >= ? AND date <= ?
		GROUP BY channel
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query channel stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[retrieval.Channel]ChannelStats)
	for rows.Next() {
		var channel string
		var cs ChannelStats
		var latencyNS int64
		if err := rows.Scan(&channel, &cs.Queries, &cs.EmptyCount, &latencyNS); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		cs.TotalLatency = time.Duration(latencyNS)
		stats[retrieval.Channel(channel)] = cs
	}
	return stats, rows.Err()
}

// Close releases resources. The underlying db is shared and stays open.
func (s *SQLiteMetricsStore) Close() error {
	return nil
}

var _ MetricsStore = (*SQLiteMetricsStore)(nil)
