package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jeanmemory/jean-memory-go/internal/search"
	"github.com/jeanmemory/jean-memory-go/internal/store"
)

// CachedEmbedder wraps an Embedder with content-hash caching via SQLite.
type CachedEmbedder struct {
	inner  Embedder
	cache  *store.EmbeddingCacheStore
	model  string
	logger *slog.Logger
}

func NewCachedEmbedder(inner Embedder, cache *store.EmbeddingCacheStore, model string, logger *slog.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		cache:  cache,
		model:  model,
		logger: logger,
	}
}

// Embed returns the embedding for text, using the cache when available.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ContentHash(text)

	entry, err := e.cache.Get(hash)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if entry != nil && entry.Model == e.model {
		return search.BytesToFloat32(entry.Embedding), nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	cacheEntry := &store.EmbeddingCacheEntry{
		ContentHash: hash,
		Embedding:   search.Float32ToBytes(vec),
		Dimension:   e.inner.Dimensions(),
		Model:       e.model,
	}
	if err := e.cache.Put(cacheEntry); err != nil {
		e.logger.Warn("embedding cache write failed", "error", err)
	}

	return vec, nil
}

// Dimensions returns the embedding vector size.
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }
