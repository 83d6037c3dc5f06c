package stm

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jeanmemory/jean-memory-go/internal/embedding"
	"github.com/jeanmemory/jean-memory-go/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(embedding.NewLocalEmbedder(64), 100, slog.Default())
}

func TestAddAndGetMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem, err := s.AddMemory(ctx, "I love hiking in the mountains", "alice", map[string]any{"app_id": "cli"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.ID == "" {
		t.Fatal("expected a generated id")
	}
	if mem.AppID != "cli" {
		t.Fatalf("expected app id from metadata, got %q", mem.AppID)
	}
	if mem.UploadStatus != models.UploadPending {
		t.Fatalf("new memory should be pending, got %s", mem.UploadStatus)
	}

	got := s.GetMemory(mem.ID)
	if got == nil || got.Content != mem.Content {
		t.Fatal("stored memory not retrievable")
	}

	if s.GetMemory("missing") != nil {
		t.Fatal("expected nil for unknown id")
	}
}

func TestAddMemoryRequiresUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddMemory(context.Background(), "content", "", nil); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestNormalizeContent(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"string", "plain", "plain"},
		{"string slice", []string{"a", "b"}, "a\nb"},
		{"any slice", []any{"x", "y"}, "x\ny"},
		{"map with content key", map[string]any{"content": "inner"}, "inner"},
		{"map with text key", map[string]any{"text": "other"}, "other"},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeContent(tc.in); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSearchMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hiking, _ := s.AddMemory(ctx, "I love hiking", "alice", nil)
	s.AddMemory(ctx, "quarterly revenue spreadsheet", "alice", nil)
	s.AddMemory(ctx, "hiking boots for sale", "bob", nil)

	t.Run("finds related content above threshold", func(t *testing.T) {
		results, err := s.SearchMemories(ctx, "hiking", "alice", 10, 0.2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) == 0 {
			t.Fatal("expected at least one result")
		}
		if results[0].ID != hiking.ID {
			t.Fatalf("expected hiking memory first, got %s", results[0].Content)
		}
		if results[0].Source != "stm" {
			t.Fatalf("expected stm source, got %s", results[0].Source)
		}
	})

	t.Run("results are user scoped", func(t *testing.T) {
		results, err := s.SearchMemories(ctx, "hiking", "bob", 10, 0.2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, r := range results {
			if r.UserID != "bob" {
				t.Fatalf("leaked memory from user %s", r.UserID)
			}
		}
	})

	t.Run("search bumps access stats", func(t *testing.T) {
		before := s.GetMemory(hiking.ID).AccessCount
		if _, err := s.SearchMemories(ctx, "hiking", "alice", 10, 0.2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		after := s.GetMemory(hiking.ID).AccessCount
		if after <= before {
			t.Fatalf("access count not bumped: %d -> %d", before, after)
		}
	})

	t.Run("unknown user returns nothing", func(t *testing.T) {
		results, err := s.SearchMemories(ctx, "hiking", "nobody", 10, 0.2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 0 {
			t.Fatalf("expected no results, got %d", len(results))
		}
	})
}

func TestDegradedModeWithoutEmbedder(t *testing.T) {
	s := NewStore(nil, 100, slog.Default())
	ctx := context.Background()

	if s.IsReady() {
		t.Fatal("store without embedder should not be search-ready")
	}

	mem, err := s.AddMemory(ctx, "still stored", "alice", nil)
	if err != nil {
		t.Fatalf("writes must work in degraded mode: %v", err)
	}
	if s.GetMemory(mem.ID) == nil {
		t.Fatal("memory not stored in degraded mode")
	}

	results, err := s.SearchMemories(ctx, "stored", "alice", 10, 0.2)
	if err != nil {
		t.Fatalf("degraded search must not error: %v", err)
	}
	if results != nil {
		t.Fatal("degraded search should return nil")
	}
}

func TestUploadCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fresh, _ := s.AddMemory(ctx, "fresh memory", "alice", nil)
	uploaded, _ := s.AddMemory(ctx, "already uploaded", "alice", nil)
	s.MarkUploaded(uploaded.ID, "ltm-1")

	candidates := s.GetUploadCandidates("alice", 0.3, 10)
	for _, c := range candidates {
		if c.ID == uploaded.ID {
			t.Fatal("uploaded memory must not be a candidate")
		}
	}

	found := false
	for _, c := range candidates {
		if c.ID == fresh.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("fresh memory should be a candidate")
	}

	t.Run("min salience filters", func(t *testing.T) {
		if got := s.GetUploadCandidates("alice", 0.99, 10); len(got) != 0 {
			t.Fatalf("expected no candidates above 0.99, got %d", len(got))
		}
	})

	t.Run("cap limits the batch", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			s.AddMemory(ctx, "filler", "carol", nil)
		}
		if got := s.GetUploadCandidates("carol", 0.3, 2); len(got) != 2 {
			t.Fatalf("expected cap of 2, got %d", len(got))
		}
	})
}

func TestMarkUploadTransitions(t *testing.T) {
	s := newTestStore(t)
	mem, _ := s.AddMemory(context.Background(), "content", "alice", nil)

	s.MarkUploadFailed(mem.ID)
	if got := s.GetMemory(mem.ID); got.UploadStatus != models.UploadFailed {
		t.Fatalf("expected failed status, got %s", got.UploadStatus)
	}

	s.MarkUploaded(mem.ID, "ltm-42")
	got := s.GetMemory(mem.ID)
	if got.UploadStatus != models.UploadComplete {
		t.Fatalf("expected complete status, got %s", got.UploadStatus)
	}
	if got.LTMID != "ltm-42" {
		t.Fatalf("expected ltm id back-reference, got %q", got.LTMID)
	}

	// Uploaded is a one-way state.
	s.MarkUploadFailed(mem.ID)
	if got := s.GetMemory(mem.ID); got.UploadStatus != models.UploadComplete {
		t.Fatal("uploaded memory must never be downgraded")
	}
}

func TestDeleteMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem, _ := s.AddMemory(ctx, "delete me", "alice", nil)
	if !s.DeleteMemory(ctx, mem.ID) {
		t.Fatal("expected delete to succeed")
	}
	if s.GetMemory(mem.ID) != nil {
		t.Fatal("memory still present after delete")
	}
	if s.DeleteMemory(ctx, mem.ID) {
		t.Fatal("second delete should report false")
	}

	results, _ := s.SearchMemories(ctx, "delete", "alice", 10, 0.0)
	for _, r := range results {
		if r.ID == mem.ID {
			t.Fatal("deleted memory still searchable")
		}
	}
}

func TestEvictionPrefersUploaded(t *testing.T) {
	s := NewStore(embedding.NewLocalEmbedder(32), 3, slog.Default())
	ctx := context.Background()

	first, _ := s.AddMemory(ctx, "memory one", "alice", nil)
	second, _ := s.AddMemory(ctx, "memory two", "alice", nil)
	s.MarkUploaded(second.ID, "ltm-2")
	s.AddMemory(ctx, "memory three", "alice", nil)

	// Cap is 3; the fourth insert must evict the uploaded one, not the oldest.
	s.AddMemory(ctx, "memory four", "alice", nil)

	if s.GetMemory(second.ID) != nil {
		t.Fatal("uploaded memory should be evicted first")
	}
	if s.GetMemory(first.ID) == nil {
		t.Fatal("pending memory evicted while an uploaded one existed")
	}
}

func TestEvictionOldestWhenNonePending(t *testing.T) {
	s := NewStore(embedding.NewLocalEmbedder(32), 2, slog.Default())
	ctx := context.Background()

	first, _ := s.AddMemory(ctx, "oldest", "alice", nil)
	s.AddMemory(ctx, "middle", "alice", nil)
	s.AddMemory(ctx, "newest", "alice", nil)

	if s.GetMemory(first.ID) != nil {
		t.Fatal("expected oldest memory evicted at cap")
	}
	if got := len(s.GetUserMemories("alice")); got != 2 {
		t.Fatalf("expected 2 memories after eviction, got %d", got)
	}
}

func TestEvictionRemovesVector(t *testing.T) {
	s := NewStore(embedding.NewLocalEmbedder(32), 2, slog.Default())
	ctx := context.Background()

	evictee, _ := s.AddMemory(ctx, "oldest entry", "alice", nil)
	s.AddMemory(ctx, "second entry", "alice", nil)
	s.AddMemory(ctx, "third entry", "alice", nil)

	col := s.lookupCollection("alice")
	if col == nil {
		t.Fatal("expected a collection for alice")
	}
	if got := col.Count(); got != 2 {
		t.Fatalf("evicted memory left its vector behind, collection count=%d", got)
	}

	results, _ := s.SearchMemories(ctx, "oldest entry", "alice", 10, 0.0)
	for _, r := range results {
		if r.ID == evictee.ID {
			t.Fatal("evicted memory still surfaced by search")
		}
	}
}

func TestUsersAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AddMemory(ctx, "a", "alice", nil)
	s.AddMemory(ctx, "b", "bob", nil)
	s.AddMemory(ctx, "c", "bob", nil)

	if s.Count() != 3 {
		t.Fatalf("expected 3 memories, got %d", s.Count())
	}
	if users := s.Users(); len(users) != 2 {
		t.Fatalf("expected 2 users, got %v", users)
	}

	s.Clear()
	if s.Count() != 0 {
		t.Fatal("clear should drop all memories")
	}
}

func TestNewMemorySalience(t *testing.T) {
	mem := NewMemory("content", "alice", nil)
	if mem.SalienceScore < 0.59 || mem.SalienceScore > 0.61 {
		t.Fatalf("fresh memory salience should be ~0.6, got %f", mem.SalienceScore)
	}
	if time.Since(mem.CreatedAt) > time.Minute {
		t.Fatal("created-at not set to now")
	}
}
