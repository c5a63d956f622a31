// Package embed provides query-time embedding for retrieval channels.
//
// Two embedding spaces are in play: a text space (default 1536 dimensions)
// shared by the transcript, visual, and summary channels, and a CLIP text
// space (default 512 dimensions) for the clip_visual channel, where the
// query is embedded into the same space as the indexed frame embeddings.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// TextDimensions is the default text embedding dimension.
	TextDimensions = 1536

	// CLIPDimensions is the default CLIP text embedding dimension.
	CLIPDimensions = 512

	// DefaultTimeout is the default timeout for a single embedding request.
	DefaultTimeout = 5 * time.Second

	// DefaultConnectTimeout bounds the initial health check.
	DefaultConnectTimeout = 2 * time.Second

	// DefaultPoolSize is the HTTP connection pool size.
	DefaultPoolSize = 8
)

// Embedder generates a vector embedding for a query text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
