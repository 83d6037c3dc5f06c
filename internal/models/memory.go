package models

import "time"

// UploadStatus tracks a memory's synchronization state with long-term storage.
// A memory only moves forward: pending -> uploaded. A failed upload keeps the
// memory eligible for retry; it never transitions back from uploaded.
type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadComplete UploadStatus = "uploaded"
	UploadFailed   UploadStatus = "failed"
)

// Memory is the short-term memory entity. STM owns it exclusively until
// upload; after upload LTMID holds a non-owning back-reference to the
// long-term copy.
type Memory struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	AppID         string         `json:"appId,omitempty"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	LastAccessed  time.Time      `json:"lastAccessed"`
	AccessCount   int            `json:"accessCount"`
	SalienceScore float64        `json:"salienceScore"`
	UploadStatus  UploadStatus   `json:"uploadStatus"`
	LTMID         string         `json:"ltmId,omitempty"`
}

// Uploaded reports whether the memory already exists in long-term storage.
func (m *Memory) Uploaded() bool {
	return m.UploadStatus == UploadComplete
}

// SearchResult is a single scored result from any tier.
type SearchResult struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Score     float64        `json:"score"`
	UserID    string         `json:"userId,omitempty"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
}

// LTMRecord is a normalized memory record returned by the long-term store.
// Metadata always carries source=ltm so callers can tell provenance apart.
type LTMRecord struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	UserID    string         `json:"userId,omitempty"`
	Score     float64        `json:"score,omitempty"`
	IsHot     bool           `json:"isHot,omitempty"`
	Metadata  map[string]any `json:"metadata_,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
}
