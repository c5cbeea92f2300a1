package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings kept by CachedProvider.
const DefaultCacheSize = 1000

// CachedProvider wraps a Provider with an LRU cache. Repeated queries skip
// the model entirely. Cached vectors are shared and must not be modified.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider wraps inner with a cache of the given size.
func NewCachedProvider(inner Provider, size int) *CachedProvider {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedProvider{inner: inner, cache: cache}
}

func (c *CachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + Canonicalize(text)))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached embedding if present, otherwise computes and caches it.
func (c *CachedProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	key := c.key(text)
	if vec, ok := c.cache.Get(key); ok {
		return Embedding{Vector: vec}, nil
	}

	emb, err := c.inner.Embed(ctx, text)
	if err != nil {
		return Embedding{}, err
	}
	c.cache.Add(key, emb.Vector)
	return emb, nil
}

// EmbedBatch embeds only the texts missing from the cache.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if vec, ok := c.cache.Get(c.key(t)); ok {
			out[i] = Embedding{Vector: vec}
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	embs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = embs[j]
		c.cache.Add(c.key(texts[i]), embs[j].Vector)
	}
	return out, nil
}

// Len returns the number of cached embeddings.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

// ModelName returns the wrapped provider's model name.
func (c *CachedProvider) ModelName() string {
	return c.inner.ModelName()
}

// Dimensions returns the wrapped provider's dimensions.
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}
