package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider records how many texts reach the inner provider.
type countingProvider struct {
	*HashProvider
	calls int
}

func (c *countingProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	c.calls++
	return c.HashProvider.Embed(ctx, text)
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	c.calls += len(texts)
	return c.HashProvider.EmbedBatch(ctx, texts)
}

func TestCachedProvider_Embed(t *testing.T) {
	inner := &countingProvider{HashProvider: NewHashProvider(16)}
	c := NewCachedProvider(inner, 10)
	ctx := context.Background()

	first, err := c.Embed(ctx, "query text")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "query   text")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first.Vector, second.Vector)
	assert.Equal(t, inner.ModelName(), c.ModelName())
	assert.Equal(t, 16, c.Dimensions())
}

func TestCachedProvider_EmbedBatch(t *testing.T) {
	inner := &countingProvider{HashProvider: NewHashProvider(16)}
	c := NewCachedProvider(inner, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, "b")
	require.NoError(t, err)

	embs, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, embs, 3)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 3, c.Len())

	direct, err := inner.HashProvider.Embed(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, direct.Vector, embs[2].Vector)
}

func TestCachedProvider_ErrorNotCached(t *testing.T) {
	c := NewCachedProvider(NewHashProvider(16), 10)

	_, err := c.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, 0, c.Len())
}
