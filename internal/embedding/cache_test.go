package embedding

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jeanmemory/jean-memory-go/internal/store"
)

// countingEmbedder wraps LocalEmbedder and counts Embed calls.
type countingEmbedder struct {
	inner Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func setupCacheStore(t *testing.T) *store.EmbeddingCacheStore {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewEmbeddingCacheStore(db)
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	cacheStore := setupCacheStore(t)
	counter := &countingEmbedder{inner: NewLocalEmbedder(32)}
	e := NewCachedEmbedder(counter, cacheStore, "test-model", slog.Default())

	t.Run("second embed hits the cache", func(t *testing.T) {
		first, err := e.Embed(ctx, "repeatable content")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := e.Embed(ctx, "repeatable content")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if counter.calls != 1 {
			t.Fatalf("expected 1 inner embed call, got %d", counter.calls)
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("cached embedding differs at index %d", i)
			}
		}
	})

	t.Run("different content misses", func(t *testing.T) {
		before := counter.calls
		if _, err := e.Embed(ctx, "entirely new content"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if counter.calls != before+1 {
			t.Fatalf("expected a cache miss, calls went %d -> %d", before, counter.calls)
		}
	})

	t.Run("model mismatch re-embeds", func(t *testing.T) {
		other := &countingEmbedder{inner: NewLocalEmbedder(32)}
		e2 := NewCachedEmbedder(other, cacheStore, "other-model", slog.Default())
		if _, err := e2.Embed(ctx, "repeatable content"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if other.calls != 1 {
			t.Fatalf("expected re-embed for different model, got %d calls", other.calls)
		}
	})
}

func TestContentHash(t *testing.T) {
	a := ContentHash("same input")
	b := ContentHash("same input")
	c := ContentHash("different input")
	if a != b {
		t.Fatal("hash not deterministic")
	}
	if a == c {
		t.Fatal("distinct inputs collided")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}
