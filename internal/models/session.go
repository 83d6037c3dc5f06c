package models

import "time"

// ContextEntry is a single timestamped exchange inside a session.
type ContextEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a user interaction session. Local sessions expire by idle time.
type Session struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastAccessed time.Time      `json:"lastAccessed"`
	State        map[string]any `json:"state,omitempty"`
	Context      []ContextEntry `json:"context,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CreateSessionRequest is the payload for POST /sessions.
type CreateSessionRequest struct {
	UserID   string         `json:"userId"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdateSessionRequest is the payload for PATCH /sessions/{id}.
// State entries are merged; a context entry, when present, is appended.
type UpdateSessionRequest struct {
	State   map[string]any `json:"state,omitempty"`
	Context *ContextEntry  `json:"context,omitempty"`
}
