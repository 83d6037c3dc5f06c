package orchestrator

import (
	"context"
	"time"

	"github.com/jeanmemory/jean-memory-go/internal/ltm"
	"github.com/jeanmemory/jean-memory-go/internal/models"
	"github.com/jeanmemory/jean-memory-go/internal/stm"
)

// Tier is a storage layer the orchestrator can route reads and writes to.
// Lower Priority values are faster and are tried first on writes; on search
// they earn a small score bonus during merging.
type Tier interface {
	Name() string
	Priority() int
	IsReady() bool
	SupportsSearch() bool
	Add(ctx context.Context, mem *models.Memory) error
	Get(ctx context.Context, id string) *models.Memory
	Search(ctx context.Context, query, userID string, limit int, threshold float64) ([]models.SearchResult, error)
	Delete(ctx context.Context, id string) bool
}

// stmTier adapts the in-process short-term store.
type stmTier struct {
	store *stm.Store
}

func NewSTMTier(store *stm.Store) Tier { return &stmTier{store: store} }

func (t *stmTier) Name() string         { return "stm" }
func (t *stmTier) Priority() int        { return 2 }
func (t *stmTier) IsReady() bool        { return t.store != nil }
func (t *stmTier) SupportsSearch() bool { return t.store != nil && t.store.IsReady() }

func (t *stmTier) Add(ctx context.Context, mem *models.Memory) error {
	return t.store.Insert(ctx, mem)
}

func (t *stmTier) Get(ctx context.Context, id string) *models.Memory {
	return t.store.GetMemory(id)
}

func (t *stmTier) Search(ctx context.Context, query, userID string, limit int, threshold float64) ([]models.SearchResult, error) {
	return t.store.SearchMemories(ctx, query, userID, limit, threshold)
}

func (t *stmTier) Delete(ctx context.Context, id string) bool {
	return t.store.DeleteMemory(ctx, id)
}

// ltmTier adapts the remote long-term client. The client already degrades
// to nil results when unconfigured or unhealthy, so Add and Search never
// surface transport errors here beyond a generic failure.
type ltmTier struct {
	client *ltm.Client
}

func NewLTMTier(client *ltm.Client) Tier { return &ltmTier{client: client} }

func (t *ltmTier) Name() string         { return "ltm" }
func (t *ltmTier) Priority() int        { return 3 }
func (t *ltmTier) IsReady() bool        { return t.client != nil && t.client.IsReady() }
func (t *ltmTier) SupportsSearch() bool { return t.IsReady() }

func (t *ltmTier) Add(ctx context.Context, mem *models.Memory) error {
	rec := t.client.UploadMemory(ctx, mem.Content, mem.UserID, mem.AppID, mem.Metadata)
	if rec == nil {
		return errTierAddFailed
	}
	return nil
}

func (t *ltmTier) Get(ctx context.Context, id string) *models.Memory {
	rec := t.client.GetMemory(ctx, id)
	if rec == nil {
		return nil
	}
	return recordToMemory(rec)
}

func (t *ltmTier) Search(ctx context.Context, query, userID string, limit int, threshold float64) ([]models.SearchResult, error) {
	records := t.client.SearchMemories(ctx, query, userID, limit)
	results := make([]models.SearchResult, 0, len(records))
	for _, rec := range records {
		if rec.Score < threshold {
			continue
		}
		results = append(results, models.SearchResult{
			ID:        rec.ID,
			Content:   rec.Content,
			Score:     rec.Score,
			UserID:    rec.UserID,
			Source:    "ltm",
			Metadata:  rec.Metadata,
			CreatedAt: rec.CreatedAt,
		})
	}
	return results, nil
}

func (t *ltmTier) Delete(ctx context.Context, id string) bool {
	return t.client.DeleteMemory(ctx, id)
}

func recordToMemory(rec *models.LTMRecord) *models.Memory {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &models.Memory{
		ID:           rec.ID,
		UserID:       rec.UserID,
		Content:      rec.Content,
		Metadata:     rec.Metadata,
		CreatedAt:    created,
		LastAccessed: created,
		UploadStatus: models.UploadComplete,
		LTMID:        rec.ID,
	}
}
