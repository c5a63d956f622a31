package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder(CLIPDimensions)
	defer func() { _ = e.Close() }()

	// Given: the same text embedded twice
	a, err := e.Embed(context.Background(), "a man walks a dog on the beach")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "a man walks a dog on the beach")
	require.NoError(t, err)

	// Then: identical vectors
	assert.Equal(t, a, b)
	assert.Len(t, a, CLIPDimensions)
}

func TestStaticEmbedder_NormalizedOutput(t *testing.T) {
	e := NewStaticEmbedder(TextDimensions)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "sunset over the harbor")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-5)
}

func TestStaticEmbedder_EmptyTextReturnsZeroVector(t *testing.T) {
	e := NewStaticEmbedder(64)

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	require.Len(t, vec, 64)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewStaticEmbedder(TextDimensions)

	a, err := e.Embed(context.Background(), "car chase at night")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "quiet morning kitchen scene")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestStaticEmbedder_ClosedRejectsEmbed(t *testing.T) {
	e := NewStaticEmbedder(64)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestStaticEmbedder_DefaultsDims(t *testing.T) {
	e := NewStaticEmbedder(0)
	assert.Equal(t, TextDimensions, e.Dimensions())
	assert.Equal(t, "static-1536", e.ModelName())
}
