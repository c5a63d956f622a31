package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/framefind/framefind/internal/config"
	"github.com/framefind/framefind/internal/output"
	"github.com/framefind/framefind/internal/retrieval"
)

// searchOptions holds command-line options for the search command.
type searchOptions struct {
	limit     int
	tenant    string
	video     string
	method    string
	weights   string
	threshold float64
	explain   bool
	format    string
}

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed video scenes",
		Long: `Search indexed scenes with hybrid retrieval.

The query fans out across the enabled channels (dense transcript, visual
caption, and summary embeddings, CLIP visual embeddings, and BM25 keyword
matching) and the ranked lists are fused into one result list.

Examples:
  framefind search "red car chase" --tenant acme
  framefind search "sunset over the harbor" --tenant acme --video vid-42
  framefind search "whiteboard diagram" --tenant acme --method reciprocal_rank_fusion
  framefind search "goal celebration" --tenant acme --weights transcript=0.7,lexical=0.3
  framefind search "storm clouds" --tenant acme --explain --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "Tenant ID to search within (required)")
	cmd.Flags().StringVar(&opts.video, "video", "", "Restrict results to one video ID")
	cmd.Flags().StringVar(&opts.method, "method", "", "Fusion method: min_max_weighted_mean or reciprocal_rank_fusion")
	cmd.Flags().StringVar(&opts.weights, "weights", "", "Channel weights as channel=weight pairs, e.g. transcript=0.7,lexical=0.3")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum cosine similarity for dense channels (default 0.2)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Include per-channel score attribution (needs debug_enabled in config)")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text or json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts *searchOptions) error {
	if opts.tenant == "" {
		return fmt.Errorf("--tenant is required")
	}
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("--format must be 'text' or 'json', got %s", opts.format)
	}

	weights, err := parseWeights(opts.weights)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.orch.Retrieve(ctx, &retrieval.Request{
		Query:          query,
		TenantID:       opts.tenant,
		VideoScopeID:   opts.video,
		Limit:          opts.limit,
		DenseThreshold: opts.threshold,
		FusionMethod:   retrieval.FusionMethod(opts.method),
		Weights:        weights,
		Debug:          opts.explain,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return formatSearchJSON(cmd, resp)
	}
	return formatSearchText(cmd, resp)
}

// parseWeights parses "channel=weight,channel=weight" into a weight map.
// An empty string yields nil, meaning no request-level override.
func parseWeights(s string) (map[retrieval.Channel]float64, error) {
	if s == "" {
		return nil, nil
	}

	weights := make(map[retrieval.Channel]float64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid weight %q, expected channel=weight", pair)
		}
		ch := retrieval.Channel(strings.TrimSpace(name))
		if !ch.Valid() {
			return nil, fmt.Errorf("unknown channel %q in --weights", name)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight value %q for channel %s", value, ch)
		}
		weights[ch] = w
	}
	if len(weights) == 0 {
		return nil, nil
	}
	return weights, nil
}

// formatSearchJSON writes the full response as indented JSON.
func formatSearchJSON(cmd *cobra.Command, resp *retrieval.Response) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// formatSearchText writes a human-readable result listing.
func formatSearchText(cmd *cobra.Command, resp *retrieval.Response) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("🔍", "Results for: %s", resp.Query)
	out.Newline()

	if resp.Total == 0 {
		out.Status("", "No matching scenes found.")
		out.Newline()
		out.Statusf("", "mode: %s | latency: %dms", resp.Mode, resp.LatencyMS)
		return nil
	}

	for i, r := range resp.Results {
		title := r.Scene.Title
		if title == "" {
			title = r.Scene.ID
		}
		out.Statusf("", "%d. %s  [%s]", i+1, title, formatTimeRange(r.Scene.StartMS, r.Scene.EndMS))
		out.Statusf("", "   video: %s | score: %.4f (%s)", r.Scene.VideoID, r.FusedScore, r.ScoreType)
		if snippet := sceneSnippet(r.Scene.Transcript, r.Scene.Summary); snippet != "" {
			out.Statusf("", "   %s", snippet)
		}
		if len(r.Debug) > 0 {
			out.Statusf("", "   channels: %s", formatAttribution(r.Debug))
		}
		out.Newline()
	}

	out.Statusf("", "%d result(s) | mode: %s | fusion: %s | latency: %dms",
		resp.Total, resp.Mode, resp.FusionMethod, resp.LatencyMS)
	if len(resp.ChannelsEmpty) > 0 {
		out.Statusf("", "empty channels: %s", joinChannels(resp.ChannelsEmpty))
	}
	return nil
}

// formatTimeRange renders scene boundaries as mm:ss-mm:ss.
func formatTimeRange(startMS, endMS int64) string {
	return fmt.Sprintf("%s-%s", formatTimestamp(startMS), formatTimestamp(endMS))
}

func formatTimestamp(ms int64) string {
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// sceneSnippet returns a short preview line from the transcript, falling
// back to the summary.
func sceneSnippet(transcript, summary string) string {
	text := strings.TrimSpace(transcript)
	if text == "" {
		text = strings.TrimSpace(summary)
	}
	if text == "" {
		return ""
	}
	text = strings.Join(strings.Fields(text), " ")
	const maxLen = 120
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}
	return text
}

// formatAttribution renders per-channel contributions for --explain output.
func formatAttribution(debug map[retrieval.Channel]*retrieval.ChannelDebug) string {
	parts := make([]string, 0, len(debug))
	for _, ch := range retrieval.AllChannels {
		d, ok := debug[ch]
		if !ok || !d.Present {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%.3f", ch, d.Contribution))
	}
	return strings.Join(parts, " ")
}

func joinChannels(channels []retrieval.Channel) string {
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = string(ch)
	}
	return strings.Join(names, ", ")
}
