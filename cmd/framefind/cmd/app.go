package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/framefind/framefind/internal/config"
	"github.com/framefind/framefind/internal/embed"
	"github.com/framefind/framefind/internal/retrieval"
	"github.com/framefind/framefind/internal/store"
	"github.com/framefind/framefind/internal/telemetry"
)

// vectorBackend is the store surface the CLI needs from a dense index:
// writes during ingest, reads during search.
type vectorBackend interface {
	Add(ctx context.Context, items []store.VectorItem) error
	Search(ctx context.Context, scope store.Scope, query []float32, k int) ([]*store.VectorResult, error)
	Close() error
}

// app bundles the opened stores, embedders, and orchestrator for one
// command invocation.
type app struct {
	cfg       *config.Config
	scenes    *store.SQLiteStore
	lexical   *store.BleveLexicalStore
	vectors   map[retrieval.Channel]vectorBackend
	embedders *embed.Pair
	metricsDB *sql.DB
	collector *telemetry.Collector
	orch      *retrieval.Orchestrator
}

// openApp opens every configured backend and wires the retrieval
// orchestrator. Callers must Close the returned app.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, vectors: make(map[retrieval.Channel]vectorBackend)}

	if err := os.MkdirAll(cfg.Stores.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	scenes, err := store.NewSQLiteStore(cfg.ScenesDBPath())
	if err != nil {
		return nil, fmt.Errorf("open scene store: %w", err)
	}
	a.scenes = scenes

	lexical, err := store.NewBleveLexicalStore(cfg.LexicalIndexPath())
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	a.lexical = lexical

	if err := a.openVectors(); err != nil {
		a.closeAll()
		return nil, err
	}

	embedders, err := embed.NewFromConfig(ctx, cfg)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("create embedders: %w", err)
	}
	a.embedders = embedders

	if err := a.openMetrics(); err != nil {
		a.closeAll()
		return nil, err
	}

	searchers := make(map[retrieval.Channel]retrieval.VectorSearcher, len(a.vectors))
	for ch, vs := range a.vectors {
		searchers[ch] = vs
	}

	opts := []retrieval.Option{}
	if a.collector != nil {
		opts = append(opts, retrieval.WithMetrics(a.collector))
	}
	a.orch = retrieval.NewOrchestrator(cfg, retrieval.Deps{
		TextEmbedder: embedders.Text,
		CLIPEmbedder: embedders.CLIP,
		Vectors:      searchers,
		Lexical:      lexical,
		Scenes:       scenes,
		Preferences:  scenes,
	}, opts...)

	return a, nil
}

// openVectors opens one dense store per enabled dense channel.
func (a *app) openVectors() error {
	for _, ch := range retrieval.AllChannels {
		if !ch.Dense() {
			continue
		}
		cc, _ := a.cfg.Channels.ByName(string(ch))
		if !cc.IsEnabled() {
			continue
		}

		dims := a.cfg.Embeddings.TextDimensions
		if ch == retrieval.ChannelCLIPVisual {
			dims = a.cfg.Embeddings.CLIPDimensions
		}

		var vs vectorBackend
		switch a.cfg.Stores.VectorBackend {
		case "qdrant":
			qs, err := store.NewQdrantStore(
				a.cfg.Stores.QdrantHost,
				a.cfg.Stores.QdrantPort,
				a.qdrantCollection(ch),
				dims,
			)
			if err != nil {
				return fmt.Errorf("open qdrant store for %s: %w", ch, err)
			}
			vs = qs
		default:
			hs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
			if err != nil {
				return fmt.Errorf("open vector store for %s: %w", ch, err)
			}
			if path := a.hnswPath(ch); fileExists(path) {
				if err := hs.Load(path); err != nil {
					return fmt.Errorf("load vector index for %s: %w", ch, err)
				}
			}
			vs = hs
		}
		a.vectors[ch] = vs
	}
	return nil
}

// openMetrics opens the telemetry database and starts the collector.
// Telemetry failures never block retrieval.
func (a *app) openMetrics() error {
	db, err := sql.Open("sqlite", a.metricsDBPath())
	if err != nil {
		return nil
	}
	db.SetMaxOpenConns(1)

	if err := telemetry.InitTelemetrySchema(db); err != nil {
		_ = db.Close()
		return nil
	}
	ms, err := telemetry.NewSQLiteMetricsStore(db)
	if err != nil {
		_ = db.Close()
		return nil
	}

	a.metricsDB = db
	a.collector = telemetry.NewCollectorWithConfig(ms, telemetry.DefaultConfig())
	return nil
}

// hnswPath returns the on-disk index path for one dense channel.
func (a *app) hnswPath(ch retrieval.Channel) string {
	return filepath.Join(a.cfg.Stores.DataDir, "vectors", string(ch)+".hnsw")
}

// qdrantCollection maps a dense channel to its qdrant collection name.
func (a *app) qdrantCollection(ch retrieval.Channel) string {
	if ch == retrieval.ChannelCLIPVisual {
		return a.cfg.Stores.QdrantCLIPCollection
	}
	return fmt.Sprintf("%s_%s", a.cfg.Stores.QdrantTextCollection, ch)
}

// saveVectors persists local vector indexes after an ingest.
func (a *app) saveVectors() error {
	if a.cfg.Stores.VectorBackend != "hnsw" {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(a.cfg.Stores.DataDir, "vectors"), 0o755); err != nil {
		return fmt.Errorf("create vectors dir: %w", err)
	}
	for ch, vs := range a.vectors {
		hs, ok := vs.(*store.HNSWStore)
		if !ok || hs.Count() == 0 {
			continue
		}
		if err := hs.Save(a.hnswPath(ch)); err != nil {
			return fmt.Errorf("save vector index for %s: %w", ch, err)
		}
	}
	return nil
}

// Close releases every opened resource.
func (a *app) Close() error {
	return a.closeAll()
}

func (a *app) closeAll() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.collector != nil {
		record(a.collector.Close())
	}
	if a.metricsDB != nil {
		record(a.metricsDB.Close())
	}
	if a.embedders != nil {
		record(a.embedders.Close())
	}
	for _, vs := range a.vectors {
		record(vs.Close())
	}
	if a.lexical != nil {
		record(a.lexical.Close())
	}
	if a.scenes != nil {
		record(a.scenes.Close())
	}
	return firstErr
}

// metricsDBPath returns the telemetry database path.
func (a *app) metricsDBPath() string {
	return filepath.Join(a.cfg.Stores.DataDir, "metrics.db")
}

// fileExists checks if a path exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
