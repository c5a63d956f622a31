package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts Embed calls.
type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int32
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("embedder down")
	}
	return c.StaticEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder_CachesRepeatedQueries(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64)}
	cached := NewCachedEmbedder(inner, 10)

	// When: embedding the same query twice
	a, err := cached.Embed(context.Background(), "dog on the beach")
	require.NoError(t, err)
	b, err := cached.Embed(context.Background(), "dog on the beach")
	require.NoError(t, err)

	// Then: one inner call, identical vectors
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, a, b)
}

func TestCachedEmbedder_DistinctQueriesMiss(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64)}
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "query one")
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "query two")
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64), fail: true}
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "will fail")
	require.Error(t, err)

	// Recovery: errors must not poison the cache
	inner.fail = false
	vec, err := cached.Embed(context.Background(), "will fail")
	require.NoError(t, err)
	assert.Len(t, vec, 64)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := NewStaticEmbedder(128)
	cached := NewCachedEmbedder(inner, 0) // zero falls back to default size

	assert.Equal(t, 128, cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, Embedder(inner), cached.Inner())

	require.NoError(t, cached.Close())
	assert.False(t, cached.Available(context.Background()))
}
