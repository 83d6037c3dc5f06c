package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/jeanmemory/jean-memory-go/internal/models"
)

func newTestCache(t *testing.T) *FastCache {
	t.Helper()
	cache, err := NewFastCache(1<<20, 10, 1024, slog.Default())
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}
	t.Cleanup(cache.Close)
	return cache
}

func cacheMem(id, userID, content string) *models.Memory {
	return &models.Memory{ID: id, UserID: userID, Content: content}
}

func TestFastCacheAddGet(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	mem := cacheMem("m1", "alice", "a recent thought")
	if err := f.Add(ctx, mem); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.Wait()

	got := f.Get(ctx, "m1")
	if got == nil || got.Content != "a recent thought" {
		t.Fatal("cached memory not retrievable")
	}
	if f.Get(ctx, "missing") != nil {
		t.Fatal("unknown id must return nil")
	}
}

func TestFastCacheRejectsOversized(t *testing.T) {
	f := newTestCache(t)

	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'x'
	}
	err := f.Add(context.Background(), cacheMem("big", "alice", string(big)))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFastCacheSearch(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	f.Add(ctx, cacheMem("m1", "alice", "morning trail run"))
	f.Add(ctx, cacheMem("m2", "alice", "budget review notes"))
	f.Add(ctx, cacheMem("m3", "bob", "trail maintenance report"))

	t.Run("token overlap scores hits", func(t *testing.T) {
		results, err := f.Search(ctx, "trail run", "alice", 10, 0.1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 1 || results[0].ID != "m1" {
			t.Fatalf("expected m1 only, got %v", results)
		}
		if results[0].Source != "cache" {
			t.Fatalf("expected cache source, got %s", results[0].Source)
		}
	})

	t.Run("scoped to the user", func(t *testing.T) {
		results, _ := f.Search(ctx, "trail", "bob", 10, 0.1)
		if len(results) != 1 || results[0].ID != "m3" {
			t.Fatalf("expected bob's entry only, got %v", results)
		}
	})

	t.Run("threshold filters weak overlap", func(t *testing.T) {
		results, _ := f.Search(ctx, "trail", "alice", 10, 0.9)
		if len(results) != 0 {
			t.Fatalf("expected nothing above 0.9, got %v", results)
		}
	})

	t.Run("empty query", func(t *testing.T) {
		results, _ := f.Search(ctx, "  ", "alice", 10, 0.1)
		if results != nil {
			t.Fatal("expected nil for tokenless query")
		}
	})
}

func TestFastCacheSearchRanksBeforeTruncating(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	// The strongest match sits beyond the first `limit` ring slots; the limit
	// must apply after scoring, not in insertion order.
	f.Add(ctx, cacheMem("m1", "alice", "trail"))
	f.Add(ctx, cacheMem("m2", "alice", "run"))
	f.Add(ctx, cacheMem("m3", "alice", "alpine trail run"))

	results, err := f.Search(ctx, "alpine trail run", "alice", 2, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results at limit, got %d", len(results))
	}
	if results[0].ID != "m3" {
		t.Fatalf("highest-scoring entry must rank first, got %s", results[0].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("results not sorted by score: %v then %v", results[0].Score, results[1].Score)
	}
}

func TestFastCacheRingEviction(t *testing.T) {
	cache, err := NewFastCache(1<<20, 2, 1024, slog.Default())
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}
	defer cache.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cache.Add(ctx, cacheMem(fmt.Sprintf("m%d", i), "alice", fmt.Sprintf("entry number %d", i)))
	}
	cache.Wait()

	if cache.Get(ctx, "m0") != nil {
		t.Fatal("oldest ring entry should be evicted")
	}
	if cache.Get(ctx, "m2") == nil {
		t.Fatal("newest entry must survive")
	}
}

func TestFastCacheDelete(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	f.Add(ctx, cacheMem("m1", "alice", "short lived"))
	f.Wait()

	if !f.Delete(ctx, "m1") {
		t.Fatal("expected delete to succeed")
	}
	if f.Get(ctx, "m1") != nil {
		t.Fatal("deleted entry still retrievable")
	}
	if f.Delete(ctx, "m1") {
		t.Fatal("second delete should report false")
	}
}
