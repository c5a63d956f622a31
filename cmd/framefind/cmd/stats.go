package cmd

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/framefind/framefind/internal/config"
	"github.com/framefind/framefind/internal/output"
	"github.com/framefind/framefind/internal/retrieval"
	"github.com/framefind/framefind/internal/telemetry"
)

// StatsOutput is the JSON output format for query stats.
type StatsOutput struct {
	Days                int                               `json:"days"`
	ModeCounts          map[retrieval.Mode]int64          `json:"mode_counts"`
	LatencyDistribution map[telemetry.LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []telemetry.TermCount             `json:"top_terms"`
	ChannelStats        map[retrieval.Channel]channelRow  `json:"channel_stats"`
}

type channelRow struct {
	Queries      int64   `json:"queries"`
	EmptyCount   int64   `json:"empty_count"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// newStatsCmd creates the stats command.
func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query telemetry",
		Long: `Display aggregated query telemetry:
  - Retrieval mode distribution (multi_channel/hybrid/lexical_only/dense_only)
  - Latency distribution
  - Top query terms
  - Per-channel usage and empty rates`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool, days int) error {
	if days <= 0 {
		return fmt.Errorf("--days must be positive, got %d", days)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}

	metricsPath := filepath.Join(cfg.Stores.DataDir, "metrics.db")
	if !fileExists(metricsPath) {
		return fmt.Errorf("no telemetry recorded yet in %s\nRun some searches first", cfg.Stores.DataDir)
	}

	db, err := sql.Open("sqlite", metricsPath)
	if err != nil {
		return fmt.Errorf("open metrics database: %w", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	ms, err := telemetry.NewSQLiteMetricsStore(db)
	if err != nil {
		return err
	}

	to := time.Now()
	from := to.AddDate(0, 0, -(days - 1))
	fromDate := from.Format("2006-01-02")
	toDate := to.Format("2006-01-02")

	modes, err := ms.GetModeCounts(fromDate, toDate)
	if err != nil {
		return fmt.Errorf("load mode counts: %w", err)
	}
	latencies, err := ms.GetLatencyCounts(fromDate, toDate)
	if err != nil {
		return fmt.Errorf("load latency counts: %w", err)
	}
	terms, err := ms.GetTopTerms(10)
	if err != nil {
		return fmt.Errorf("load top terms: %w", err)
	}
	channels, err := ms.GetChannelStats(fromDate, toDate)
	if err != nil {
		return fmt.Errorf("load channel stats: %w", err)
	}

	result := StatsOutput{
		Days:                days,
		ModeCounts:          modes,
		LatencyDistribution: latencies,
		TopTerms:            terms,
		ChannelStats:        make(map[retrieval.Channel]channelRow, len(channels)),
	}
	for ch, cs := range channels {
		result.ChannelStats[ch] = channelRow{
			Queries:      cs.Queries,
			EmptyCount:   cs.EmptyCount,
			AvgLatencyMS: float64(cs.AvgLatency().Microseconds()) / 1000.0,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return formatStatsText(cmd, result)
}

func formatStatsText(cmd *cobra.Command, stats StatsOutput) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("📊", "Query telemetry (last %d day(s))", stats.Days)
	out.Newline()

	var total int64
	for _, count := range stats.ModeCounts {
		total += count
	}
	if total == 0 {
		out.Status("", "No queries recorded in this window.")
		return nil
	}

	out.Statusf("", "Total queries: %d", total)
	out.Newline()

	out.Status("", "Retrieval modes:")
	for _, mode := range []retrieval.Mode{
		retrieval.ModeMultiChannel,
		retrieval.ModeHybrid,
		retrieval.ModeLexicalOnly,
		retrieval.ModeDenseOnly,
	} {
		if count := stats.ModeCounts[mode]; count > 0 {
			out.Statusf("", "  %-14s %d", mode, count)
		}
	}
	out.Newline()

	out.Status("", "Latency distribution:")
	for _, bucket := range []telemetry.LatencyBucket{
		telemetry.BucketP10,
		telemetry.BucketP50,
		telemetry.BucketP100,
		telemetry.BucketP500,
		telemetry.BucketP1000,
	} {
		if count := stats.LatencyDistribution[bucket]; count > 0 {
			out.Statusf("", "  %-10s %d", bucket, count)
		}
	}
	out.Newline()

	if len(stats.TopTerms) > 0 {
		out.Status("", "Top query terms:")
		for _, tc := range stats.TopTerms {
			out.Statusf("", "  %-20s %d", tc.Term, tc.Count)
		}
		out.Newline()
	}

	if len(stats.ChannelStats) > 0 {
		out.Status("", "Channels:")
		for _, ch := range retrieval.AllChannels {
			row, ok := stats.ChannelStats[ch]
			if !ok {
				continue
			}
			out.Statusf("", "  %-12s queries: %-6d empty: %-6d avg: %.1fms",
				ch, row.Queries, row.EmptyCount, row.AvgLatencyMS)
		}
	}
	return nil
}
