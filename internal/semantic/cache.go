package semantic

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes embeddings by exact text. Re-indexing or
// re-querying the same phrasing skips the API round trip.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

var _ Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(inner Embedder, maxCostBytes int64) (*CachedEmbedder, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = 32 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

// Wait flushes pending cache writes. Intended for tests.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

func (c *CachedEmbedder) Close() { c.cache.Close() }
