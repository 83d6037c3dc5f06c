package sessions

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeanmemory/jean-memory-go/internal/models"
	"github.com/jeanmemory/jean-memory-go/internal/store"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *store.SessionStore) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.NewSessionStore(db)
	return NewService(st, ttl, slog.Default()), st
}

func TestCreateAndGetSession(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	sess, err := svc.Create("alice", map[string]any{"client": "cli"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a generated session id")
	}

	got, err := svc.Get(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.UserID != "alice" {
		t.Fatal("session not retrievable")
	}
	if got.Metadata["client"] != "cli" {
		t.Fatalf("metadata lost: %v", got.Metadata)
	}

	if missing, _ := svc.Get("nope"); missing != nil {
		t.Fatal("unknown session must return nil")
	}
}

func TestCreateRequiresUser(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	if _, err := svc.Create("", nil); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestUpdateSession(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	sess, _ := svc.Create("alice", nil)

	updated, err := svc.Update(sess.ID, &models.UpdateSessionRequest{
		State:   map[string]any{"step": "onboarding"},
		Context: &models.ContextEntry{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.State["step"] != "onboarding" {
		t.Fatalf("state not merged: %v", updated.State)
	}
	if len(updated.Context) != 1 || updated.Context[0].Content != "hello" {
		t.Fatalf("context not appended: %v", updated.Context)
	}
	if updated.Context[0].Timestamp.IsZero() {
		t.Fatal("context entry should get a timestamp")
	}

	t.Run("state merges instead of replacing", func(t *testing.T) {
		again, err := svc.Update(sess.ID, &models.UpdateSessionRequest{
			State: map[string]any{"mode": "expert"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.State["step"] != "onboarding" || again.State["mode"] != "expert" {
			t.Fatalf("expected merged state, got %v", again.State)
		}
		if len(again.Context) != 1 {
			t.Fatalf("context should be untouched, got %d entries", len(again.Context))
		}
	})

	t.Run("unknown session returns nil", func(t *testing.T) {
		got, err := svc.Update("missing", &models.UpdateSessionRequest{})
		if err != nil || got != nil {
			t.Fatalf("expected nil, nil; got %v, %v", got, err)
		}
	})
}

func TestSessionExpiry(t *testing.T) {
	svc, st := newTestService(t, 50*time.Millisecond)
	sess, _ := svc.Create("alice", nil)

	// Backdate the last access beyond the TTL.
	if err := st.Touch(sess.ID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := svc.Get(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatal("expired session must read as nil")
	}

	// The expired row is removed lazily on read.
	if raw, _ := st.GetByID(sess.ID); raw != nil {
		t.Fatal("expired session should be deleted on access")
	}
}

func TestCleanupExpired(t *testing.T) {
	svc, st := newTestService(t, time.Minute)

	fresh, _ := svc.Create("alice", nil)
	stale, _ := svc.Create("alice", nil)
	st.Touch(stale.ID, time.Now().Add(-time.Hour))

	removed, err := svc.CleanupExpired()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}

	if got, _ := st.GetByID(fresh.ID); got == nil {
		t.Fatal("fresh session must survive cleanup")
	}
	if got, _ := st.GetByID(stale.ID); got != nil {
		t.Fatal("stale session must be removed")
	}
}

func TestListByUser(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	svc.Create("alice", nil)
	svc.Create("alice", nil)
	svc.Create("bob", nil)

	list, err := svc.ListByUser("alice", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	for _, s := range list {
		if s.UserID != "alice" {
			t.Fatalf("leaked session for %s", s.UserID)
		}
	}
}
