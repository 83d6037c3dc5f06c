package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeanmemory/jean-memory-go/internal/models"
)

// SessionStore handles Session CRUD on SQLite. State, context, and metadata
// are stored as JSON columns.
type SessionStore struct {
	db *DB
}

func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Insert persists a new session.
func (s *SessionStore) Insert(sess *models.Session) error {
	state, context, metadata, err := marshalSessionFields(sess)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, created_at, last_accessed, state, context, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.CreatedAt.Unix(), sess.LastAccessed.Unix(), state, context, metadata)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID fetches a session by ID. Returns nil when not found.
func (s *SessionStore) GetByID(id string) (*models.Session, error) {
	var (
		sess                     models.Session
		createdAt, lastAccessed  int64
		state, context, metadata string
	)

	err := s.db.QueryRow(`
		SELECT id, user_id, created_at, last_accessed, state, context, metadata
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.UserID, &createdAt, &lastAccessed, &state, &context, &metadata)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastAccessed = time.Unix(lastAccessed, 0)
	if err := unmarshalSessionFields(&sess, state, context, metadata); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Update rewrites a session's mutable fields.
func (s *SessionStore) Update(sess *models.Session) error {
	state, context, metadata, err := marshalSessionFields(sess)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE sessions SET last_accessed = ?, state = ?, context = ?, metadata = ?
		WHERE id = ?
	`, sess.LastAccessed.Unix(), state, context, metadata, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Touch bumps a session's last-accessed time.
func (s *SessionStore) Touch(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET last_accessed = ? WHERE id = ?`, at.Unix(), id)
	return err
}

// Delete removes a session.
func (s *SessionStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteIdleBefore removes sessions last accessed before the cutoff.
// Returns the number of sessions removed.
func (s *SessionStore) DeleteIdleBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE last_accessed < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	return res.RowsAffected()
}

// ListByUser returns a user's sessions ordered by last access desc.
func (s *SessionStore) ListByUser(userID string, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, created_at, last_accessed, state, context, metadata
		FROM sessions
		WHERE user_id = ?
		ORDER BY last_accessed DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var (
			sess                     models.Session
			createdAt, lastAccessed  int64
			state, context, metadata string
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &createdAt, &lastAccessed, &state, &context, &metadata); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.LastAccessed = time.Unix(lastAccessed, 0)
		if err := unmarshalSessionFields(&sess, state, context, metadata); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

func marshalSessionFields(sess *models.Session) (state, context, metadata string, err error) {
	stateB, err := json.Marshal(orEmptyMap(sess.State))
	if err != nil {
		return "", "", "", fmt.Errorf("marshal session state: %w", err)
	}
	ctxEntries := sess.Context
	if ctxEntries == nil {
		ctxEntries = []models.ContextEntry{}
	}
	contextB, err := json.Marshal(ctxEntries)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal session context: %w", err)
	}
	metadataB, err := json.Marshal(orEmptyMap(sess.Metadata))
	if err != nil {
		return "", "", "", fmt.Errorf("marshal session metadata: %w", err)
	}
	return string(stateB), string(contextB), string(metadataB), nil
}

func unmarshalSessionFields(sess *models.Session, state, context, metadata string) error {
	if err := json.Unmarshal([]byte(state), &sess.State); err != nil {
		return fmt.Errorf("unmarshal session state: %w", err)
	}
	if err := json.Unmarshal([]byte(context), &sess.Context); err != nil {
		return fmt.Errorf("unmarshal session context: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &sess.Metadata); err != nil {
		return fmt.Errorf("unmarshal session metadata: %w", err)
	}
	return nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
