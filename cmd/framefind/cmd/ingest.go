package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/framefind/framefind/internal/config"
	"github.com/framefind/framefind/internal/output"
	"github.com/framefind/framefind/internal/retrieval"
	"github.com/framefind/framefind/internal/store"
)

// sceneRecord is one ingest entry: scene metadata plus optional
// precomputed vectors keyed by channel name. Text channels without a
// vector are embedded at ingest time; clip_visual vectors come from the
// frame-embedding pipeline and must be precomputed.
type sceneRecord struct {
	store.Scene
	Vectors map[string][]float32 `json:"vectors,omitempty"`
}

// newIngestCmd creates the ingest command.
func newIngestCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest <scenes-file>",
		Short: "Ingest scenes into the search indexes",
		Long: `Ingest scene records from a JSON file.

The file holds either a JSON array of scene records or one JSON object
per line. Each record carries scene metadata and, optionally, precomputed
embedding vectors keyed by channel name:

  {
    "id": "scene-001",
    "tenant_id": "acme",
    "video_id": "vid-42",
    "start_ms": 0,
    "end_ms": 12000,
    "transcript": "...",
    "visual_caption": "...",
    "summary": "...",
    "vectors": {"clip_visual": [0.01, ...]}
  }

Scenes are written to the metadata store, indexed for keyword search, and
embedded into each enabled dense channel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, args[0], quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, path string, quiet bool) error {
	records, err := readSceneRecords(path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no scene records found in %s", path)
	}
	if err := validateRecords(records); err != nil {
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

	out := output.New(cmd.OutOrStdout())
	if quiet {
		out = output.New(noopWriter{})
	}

	scenes := make([]*store.Scene, len(records))
	for i := range records {
		scenes[i] = &records[i].Scene
	}

	out.Statusf("📦", "Ingesting %d scene(s) from %s", len(scenes), path)

	if err := a.scenes.SaveScenes(ctx, scenes); err != nil {
		return fmt.Errorf("save scenes: %w", err)
	}
	if err := a.lexical.Index(ctx, scenes); err != nil {
		return fmt.Errorf("index scenes: %w", err)
	}

	skippedCLIP := 0
	for ch := range a.vectors {
		items, skipped, err := a.buildVectorItems(ctx, ch, records, out)
		if err != nil {
			return err
		}
		if ch == retrieval.ChannelCLIPVisual {
			skippedCLIP = skipped
		}
		if len(items) == 0 {
			continue
		}
		if err := a.vectors[ch].Add(ctx, items); err != nil {
			return fmt.Errorf("add vectors for %s: %w", ch, err)
		}
	}

	if err := a.saveVectors(); err != nil {
		return err
	}

	out.Successf("Ingested %d scene(s)", len(scenes))
	if skippedCLIP > 0 {
		out.Warningf("%d scene(s) lack precomputed clip_visual vectors and will miss that channel", skippedCLIP)
	}
	return nil
}

// buildVectorItems assembles the vector batch for one dense channel,
// embedding scene text where no precomputed vector was supplied.
func (a *app) buildVectorItems(ctx context.Context, ch retrieval.Channel, records []sceneRecord, out *output.Writer) ([]store.VectorItem, int, error) {
	items := make([]store.VectorItem, 0, len(records))
	skipped := 0

	for i := range records {
		rec := &records[i]

		vec := rec.Vectors[string(ch)]
		if vec == nil {
			if ch == retrieval.ChannelCLIPVisual {
				skipped++
				continue
			}
			text := channelText(&rec.Scene, ch)
			if text == "" {
				skipped++
				continue
			}
			embedded, err := a.embedders.Text.Embed(ctx, text)
			if err != nil {
				return nil, 0, fmt.Errorf("embed scene %s for %s: %w", rec.ID, ch, err)
			}
			vec = embedded
		}

		items = append(items, store.VectorItem{
			SceneID:  rec.ID,
			TenantID: rec.TenantID,
			VideoID:  rec.VideoID,
			Vector:   vec,
		})
		out.Progress(i+1, len(records), fmt.Sprintf("embedding %s", ch))
	}
	if len(items) > 0 {
		out.ProgressDone()
	}
	return items, skipped, nil
}

// channelText returns the scene field a dense text channel embeds.
func channelText(s *store.Scene, ch retrieval.Channel) string {
	switch ch {
	case retrieval.ChannelTranscript:
		return strings.TrimSpace(s.Transcript)
	case retrieval.ChannelVisual:
		return strings.TrimSpace(s.VisualCaption)
	case retrieval.ChannelSummary:
		return strings.TrimSpace(s.Summary)
	}
	return ""
}

// readSceneRecords loads records from a JSON array or JSON Lines file.
func readSceneRecords(path string) ([]sceneRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenes file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var records []sceneRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parse scenes file: %w", err)
		}
		return records, nil
	}

	var records []sceneRecord
	dec := json.NewDecoder(strings.NewReader(trimmed))
	for dec.More() {
		var rec sceneRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("parse scene record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// validateRecords checks required identifiers before touching any store.
func validateRecords(records []sceneRecord) error {
	seen := make(map[string]bool, len(records))
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			return fmt.Errorf("record %d: missing scene id", i+1)
		}
		if rec.TenantID == "" {
			return fmt.Errorf("record %d (%s): missing tenant_id", i+1, rec.ID)
		}
		if rec.VideoID == "" {
			return fmt.Errorf("record %d (%s): missing video_id", i+1, rec.ID)
		}
		if rec.EndMS < rec.StartMS {
			return fmt.Errorf("record %d (%s): end_ms before start_ms", i+1, rec.ID)
		}
		if seen[rec.ID] {
			return fmt.Errorf("record %d: duplicate scene id %s", i+1, rec.ID)
		}
		seen[rec.ID] = true
	}
	return nil
}

// noopWriter discards output for --quiet mode.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
