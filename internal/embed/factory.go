package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/framefind/framefind/internal/config"
)

// Pair holds the two query embedders a retrieval request may need:
// Text for the dense text channels and CLIP for the clip_visual channel.
type Pair struct {
	Text Embedder
	CLIP Embedder
}

// Close closes both embedders.
func (p *Pair) Close() error {
	var firstErr error
	if p.Text != nil {
		if err := p.Text.Close(); err != nil {
			firstErr = err
		}
	}
	if p.CLIP != nil {
		if err := p.CLIP.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewFromConfig builds the embedder pair from configuration.
// Both embedders are wrapped with LRU caching.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Pair, error) {
	text, err := newEmbedder(ctx, cfg.Embeddings.Provider, HTTPConfig{
		Endpoint:   cfg.Embeddings.TextEndpoint,
		Model:      cfg.Embeddings.TextModel,
		Dimensions: cfg.Embeddings.TextDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("text embedder: %w", err)
	}

	clip, err := newEmbedder(ctx, cfg.Embeddings.Provider, HTTPConfig{
		Endpoint:   cfg.Embeddings.CLIPEndpoint,
		Model:      cfg.Embeddings.CLIPModel,
		Dimensions: cfg.Embeddings.CLIPDimensions,
	})
	if err != nil {
		_ = text.Close()
		return nil, fmt.Errorf("clip embedder: %w", err)
	}

	slog.Info("embedders_ready",
		slog.String("text_model", text.ModelName()),
		slog.Int("text_dims", text.Dimensions()),
		slog.String("clip_model", clip.ModelName()),
		slog.Int("clip_dims", clip.Dimensions()))

	return &Pair{
		Text: NewCachedEmbedder(text, cfg.Embeddings.CacheSize),
		CLIP: NewCachedEmbedder(clip, cfg.Embeddings.CacheSize),
	}, nil
}

// newEmbedder constructs a single embedder for the given provider.
func newEmbedder(ctx context.Context, provider string, cfg HTTPConfig) (Embedder, error) {
	switch provider {
	case "static":
		return NewStaticEmbedder(cfg.Dimensions), nil
	case "http", "":
		return NewHTTPEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", provider)
	}
}
