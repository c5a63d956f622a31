// Package telemetry collects in-process retrieval metrics. All data is
// held locally; nothing is reported externally.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/framefind/framefind/internal/retrieval"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		// Buffer full, oldest item is at head.
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items from the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// ExtractTerms extracts searchable terms from a query string.
// Terms are lowercased and filtered to minimum length 3.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return nil
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ChannelStats aggregates one channel's behavior across queries.
type ChannelStats struct {
	Queries      int64         `json:"queries"`
	EmptyCount   int64         `json:"empty_count"`
	TotalLatency time.Duration `json:"total_latency"`
}

// AvgLatency returns the mean per-query latency for the channel.
func (c ChannelStats) AvgLatency() time.Duration {
	if c.Queries == 0 {
		return 0
	}
	return c.TotalLatency / time.Duration(c.Queries)
}

// Snapshot is an immutable view of the collected metrics.
type Snapshot struct {
	ModeCounts          map[retrieval.Mode]int64           `json:"mode_counts"`
	MethodCounts        map[retrieval.FusionMethod]int64   `json:"method_counts"`
	ChannelStats        map[retrieval.Channel]ChannelStats `json:"channel_stats"`
	LatencyDistribution map[LatencyBucket]int64            `json:"latency_distribution"`
	TopTerms            []TermCount                        `json:"top_terms"`
	ZeroResultQueries   []string                           `json:"zero_result_queries"`
	TotalQueries        int64                              `json:"total_queries"`
	ZeroResultCount     int64                              `json:"zero_result_count"`
	DegradedCount       int64                              `json:"degraded_count"`
	ExactRepeatCount    int64                              `json:"exact_repeat_count"`
	ExactRepeatRate     float64                            `json:"exact_repeat_rate"`
	Since               time.Time                          `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config configures the metrics collector.
type Config struct {
	TopTermsCapacity      int           // max terms to track (default: 100)
	ZeroResultsCapacity   int           // max zero-result queries to keep (default: 100)
	RecentQueriesCapacity int           // max query hashes for repeat detection (default: 500)
	FlushInterval         time.Duration // 0 disables auto-flush
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// Collector gathers retrieval telemetry. Thread-safe; implements
// retrieval.MetricsRecorder.
type Collector struct {
	mu sync.RWMutex

	modes           map[retrieval.Mode]int64
	methods         map[retrieval.FusionMethod]int64
	channels        map[retrieval.Channel]*ChannelStats
	latencies       map[LatencyBucket]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	recentQueries   *lru.Cache[string, struct{}]
	totalQueries    int64
	zeroResultCount int64
	degradedCount   int64
	exactRepeats    int64
	startTime       time.Time

	store       MetricsStore
	config      Config
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewCollector creates a collector with default configuration. A nil store
// keeps metrics in memory only.
func NewCollector(store MetricsStore) *Collector {
	return NewCollectorWithConfig(store, DefaultConfig())
}

// NewCollectorWithConfig creates a collector with custom configuration.
func NewCollectorWithConfig(store MetricsStore, cfg Config) *Collector {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	c := &Collector{
		modes:         make(map[retrieval.Mode]int64),
		methods:       make(map[retrieval.FusionMethod]int64),
		channels:      make(map[retrieval.Channel]*ChannelStats),
		latencies:     make(map[LatencyBucket]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recentQueries,
		startTime:     time.Now(),
		store:         store,
		config:        cfg,
		stopCh:        make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		c.flushTicker = time.NewTicker(cfg.FlushInterval)
		go c.flushLoop()
	}
	return c
}

func (c *Collector) flushLoop() {
	for {
		select {
		case <-c.flushTicker.C:
			_ = c.Flush()
		case <-c.stopCh:
			return
		}
	}
}

// RecordQuery captures one query's observation.
func (c *Collector) RecordQuery(stats retrieval.QueryStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.totalQueries++
	c.modes[stats.Mode]++
	c.methods[stats.FusionMethod]++
	c.latencies[LatencyToBucket(stats.Latency)]++

	for _, term := range ExtractTerms(stats.Query) {
		count, _ := c.topTerms.Get(term)
		c.topTerms.Add(term, count+1)
	}

	for channel, latency := range stats.ChannelLatencies {
		cs := c.channels[channel]
		if cs == nil {
			cs = &ChannelStats{}
			c.channels[channel] = cs
		}
		cs.Queries++
		cs.TotalLatency += latency
		if stats.ChannelCounts[channel] == 0 {
			cs.EmptyCount++
		}
	}

	if stats.ResultCount == 0 {
		c.zeroResults.Add(stats.Query)
		c.zeroResultCount++
	}
	if stats.FailureCount > 0 {
		c.degradedCount++
	}

	hash := hashQuery(stats.Query)
	if _, seen := c.recentQueries.Get(hash); seen {
		c.exactRepeats++
	}
	c.recentQueries.Add(hash, struct{}{})
}

// hashQuery creates a normalized hash of the query for repeat detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns the current metrics for reporting.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	modes := make(map[retrieval.Mode]int64, len(c.modes))
	for k, v := range c.modes {
		modes[k] = v
	}
	methods := make(map[retrieval.FusionMethod]int64, len(c.methods))
	for k, v := range c.methods {
		methods[k] = v
	}
	channelStats := make(map[retrieval.Channel]ChannelStats, len(c.channels))
	for k, v := range c.channels {
		channelStats[k] = *v
	}
	latencies := make(map[LatencyBucket]int64, len(c.latencies))
	for k, v := range c.latencies {
		latencies[k] = v
	}

	var topTerms []TermCount
	for _, key := range c.topTerms.Keys() {
		if count, ok := c.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	var repeatRate float64
	if c.totalQueries > 0 {
		repeatRate = float64(c.exactRepeats) / float64(c.totalQueries)
	}

	return &Snapshot{
		ModeCounts:          modes,
		MethodCounts:        methods,
		ChannelStats:        channelStats,
		LatencyDistribution: latencies,
		TopTerms:            topTerms,
		ZeroResultQueries:   c.zeroResults.Items(),
		TotalQueries:        c.totalQueries,
		ZeroResultCount:     c.zeroResultCount,
		DegradedCount:       c.degradedCount,
		ExactRepeatCount:    c.exactRepeats,
		ExactRepeatRate:     repeatRate,
		Since:               c.startTime,
	}
}

// Flush persists in-memory aggregates to the store. Safe to call with no
// store configured.
func (c *Collector) Flush() error {
	if c.store == nil {
		return nil
	}

	snapshot := c.Snapshot()
	today := time.Now().Format("2006-01-02")

	if err := c.store.SaveModeCounts(today, snapshot.ModeCounts); err != nil {
		return err
	}

	termCounts := make(map[string]int64, len(snapshot.TopTerms))
	for _, tc := range snapshot.TopTerms {
		termCounts[tc.Term] = tc.Count
	}
	if err := c.store.UpsertTermCounts(termCounts); err != nil {
		return err
	}

	if err := c.store.SaveLatencyCounts(today, snapshot.LatencyDistribution); err != nil {
		return err
	}
	return c.store.SaveChannelStats(today, snapshot.ChannelStats)
}

// Close flushes and releases resources.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.flushTicker != nil {
		c.flushTicker.Stop()
		close(c.stopCh)
	}
	return c.Flush()
}

var _ retrieval.MetricsRecorder = (*Collector)(nil)
