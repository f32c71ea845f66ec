package embeddings

import (
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sanonone/kektorgraph/pkg/metrics"
)

// CachedEmbedder memoizes another Embedder. Concepts are embedded again on
// every dedup lookup and retrieval, so repeated strings are common.
type CachedEmbedder struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

func NewCachedEmbedder(next Embedder, size int) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embeddings: cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

// Embed returns a copy of the cached vector so callers may modify it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		metrics.EmbeddingCacheHits.Inc()
		return slices.Clone(v), nil
	}
	metrics.EmbeddingCacheMisses.Inc()
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, slices.Clone(v))
	return v, nil
}

func (c *CachedEmbedder) Len() int { return c.cache.Len() }

func (c *CachedEmbedder) Purge() { c.cache.Purge() }
