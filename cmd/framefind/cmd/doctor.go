package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/framefind/framefind/internal/config"
	"github.com/framefind/framefind/internal/embed"
	"github.com/framefind/framefind/internal/output"
	"github.com/framefind/framefind/internal/retrieval"
)

// doctorCheck is one diagnostic result.
type doctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // ok, warn, fail
	Detail string `json:"detail,omitempty"`
}

// newDoctorCmd creates the doctor command.
func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and backend health",
		Long: `Run diagnostics against the configured backends.

Checks:
  - Configuration loads and validates
  - Data directory is writable
  - Scene metadata and lexical indexes exist
  - Dense vector indexes exist for each enabled channel
  - Embedding services respond

Embedding checks are warnings: retrieval degrades to the surviving
channels when an embedder is down.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	var checks []doctorCheck
	add := func(name, status, detail string) {
		checks = append(checks, doctorCheck{Name: name, Status: status, Detail: detail})
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		add("configuration", "fail", err.Error())
		return reportDoctor(cmd, checks, jsonOutput)
	}
	add("configuration", "ok", fmt.Sprintf("fusion: %s, vector backend: %s", cfg.Fusion.MethodDefault, cfg.Stores.VectorBackend))

	checkDataDir(cfg, add)
	checkIndexes(cfg, add)
	checkEmbedders(ctx, cfg, add)

	return reportDoctor(cmd, checks, jsonOutput)
}

// checkDataDir verifies the data directory exists and is writable.
func checkDataDir(cfg *config.Config, add func(name, status, detail string)) {
	dir := cfg.Stores.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		add("data directory", "fail", err.Error())
		return
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		add("data directory", "fail", fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	_ = os.Remove(probe)
	add("data directory", "ok", dir)
}

// checkIndexes verifies the local stores have been populated.
func checkIndexes(cfg *config.Config, add func(name, status, detail string)) {
	if fileExists(cfg.ScenesDBPath()) {
		add("scene metadata", "ok", cfg.ScenesDBPath())
	} else {
		add("scene metadata", "warn", "no scenes ingested yet, run 'framefind ingest'")
	}

	if info, err := os.Stat(cfg.LexicalIndexPath()); err == nil && info.IsDir() {
		add("lexical index", "ok", cfg.LexicalIndexPath())
	} else {
		add("lexical index", "warn", "no lexical index yet, run 'framefind ingest'")
	}

	if cfg.Stores.VectorBackend != "hnsw" {
		add("vector indexes", "ok", fmt.Sprintf("managed by qdrant at %s:%d", cfg.Stores.QdrantHost, cfg.Stores.QdrantPort))
		return
	}
	missing := 0
	for _, ch := range retrieval.AllChannels {
		if !ch.Dense() {
			continue
		}
		cc, _ := cfg.Channels.ByName(string(ch))
		if !cc.IsEnabled() {
			continue
		}
		path := filepath.Join(cfg.Stores.DataDir, "vectors", string(ch)+".hnsw")
		if !fileExists(path) {
			missing++
		}
	}
	if missing == 0 {
		add("vector indexes", "ok", "all enabled dense channels have an index")
	} else {
		add("vector indexes", "warn", fmt.Sprintf("%d enabled dense channel(s) have no index yet", missing))
	}
}

// checkEmbedders probes both embedding services.
func checkEmbedders(ctx context.Context, cfg *config.Config, add func(name, status, detail string)) {
	embedders, err := embed.NewFromConfig(ctx, cfg)
	if err != nil {
		add("embedders", "warn", err.Error())
		return
	}
	defer func() { _ = embedders.Close() }()

	if embedders.Text.Available(ctx) {
		add("text embedder", "ok", fmt.Sprintf("%s (%d dims)", embedders.Text.ModelName(), embedders.Text.Dimensions()))
	} else {
		add("text embedder", "warn", fmt.Sprintf("%s unreachable, dense text channels will fold to empty", cfg.Embeddings.TextEndpoint))
	}

	if embedders.CLIP.Available(ctx) {
		add("clip embedder", "ok", fmt.Sprintf("%s (%d dims)", embedders.CLIP.ModelName(), embedders.CLIP.Dimensions()))
	} else {
		add("clip embedder", "warn", fmt.Sprintf("%s unreachable, clip_visual will fold to empty", cfg.Embeddings.CLIPEndpoint))
	}
}

// reportDoctor prints the results and fails when any check failed.
func reportDoctor(cmd *cobra.Command, checks []doctorCheck, jsonOutput bool) error {
	failures := 0
	for _, c := range checks {
		if c.Status == "fail" {
			failures++
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(checks); err != nil {
			return err
		}
	} else {
		out := output.New(cmd.OutOrStdout())
		for _, c := range checks {
			switch c.Status {
			case "ok":
				out.Successf("%s: %s", c.Name, c.Detail)
			case "warn":
				out.Warningf("%s: %s", c.Name, c.Detail)
			default:
				out.Errorf("%s: %s", c.Name, c.Detail)
			}
		}
	}

	if failures > 0 {
		return fmt.Errorf("doctor found %d problem(s)", failures)
	}
	return nil
}
