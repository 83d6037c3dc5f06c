package sessions

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jeanmemory/jean-memory-go/internal/models"
	"github.com/jeanmemory/jean-memory-go/internal/store"
)

// DefaultIdleTTL is how long a session may sit untouched before cleanup
// removes it.
const DefaultIdleTTL = 24 * time.Hour

// Service manages interaction sessions on top of the SQLite store. Sessions
// are append-only conversational context plus a free-form state map.
type Service struct {
	store   *store.SessionStore
	idleTTL time.Duration
	logger  *slog.Logger
}

func NewService(st *store.SessionStore, idleTTL time.Duration, logger *slog.Logger) *Service {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, idleTTL: idleTTL, logger: logger}
}

// Create starts a new session for the user.
func (s *Service) Create(userID string, metadata map[string]any) (*models.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	now := time.Now()
	sess := &models.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastAccessed: now,
		State:        map[string]any{},
		Context:      []models.ContextEntry{},
		Metadata:     metadata,
	}
	if err := s.store.Insert(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get fetches a session and bumps its last-accessed time. Returns nil when
// the session does not exist or has already expired.
func (s *Service) Get(id string) (*models.Session, error) {
	sess, err := s.store.GetByID(id)
	if err != nil || sess == nil {
		return nil, err
	}
	if time.Since(sess.LastAccessed) > s.idleTTL {
		if err := s.store.Delete(id); err != nil {
			s.logger.Warn("deleting expired session", "id", id, "error", err)
		}
		return nil, nil
	}

	sess.LastAccessed = time.Now()
	if err := s.store.Touch(id, sess.LastAccessed); err != nil {
		s.logger.Warn("touching session", "id", id, "error", err)
	}
	return sess, nil
}

// Update merges state entries into the session and appends the context entry
// when one is present. Returns nil when the session does not exist.
func (s *Service) Update(id string, req *models.UpdateSessionRequest) (*models.Session, error) {
	sess, err := s.Get(id)
	if err != nil || sess == nil {
		return nil, err
	}

	if sess.State == nil {
		sess.State = map[string]any{}
	}
	for k, v := range req.State {
		sess.State[k] = v
	}
	if req.Context != nil {
		entry := *req.Context
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		sess.Context = append(sess.Context, entry)
	}
	sess.LastAccessed = time.Now()

	if err := s.store.Update(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session.
func (s *Service) Delete(id string) error {
	return s.store.Delete(id)
}

// ListByUser returns a user's sessions, most recently used first.
func (s *Service) ListByUser(userID string, limit int) ([]*models.Session, error) {
	return s.store.ListByUser(userID, limit)
}

// CleanupExpired removes sessions idle past the TTL.
func (s *Service) CleanupExpired() (int64, error) {
	removed, err := s.store.DeleteIdleBefore(time.Now().Add(-s.idleTTL))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("expired sessions removed", "count", removed)
	}
	return removed, nil
}
