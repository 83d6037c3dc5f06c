package stm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/jeanmemory/jean-memory-go/internal/embedding"
	"github.com/jeanmemory/jean-memory-go/internal/models"

	"github.com/oklog/ulid/v2"
)

// Store is the short-term memory tier: an in-process store of recent
// memories keyed by id with per-user indices. Semantic search runs against an
// embedded vector database (chromem-go) with one collection per user. When
// the embedder is unavailable the store keeps working in a degraded mode
// without semantic search.
type Store struct {
	mu        sync.RWMutex
	memories  map[string]*models.Memory
	userIndex map[string][]string // user id -> memory ids in insertion order

	embedder    embedding.Embedder
	vectors     *chromem.DB
	collections map[string]*chromem.Collection
	colMu       sync.RWMutex

	maxPerUser int
	ready      bool
	logger     *slog.Logger
}

// NewStore creates the STM store. A nil embedder puts the store into the
// degraded no-semantic-search mode instead of failing.
func NewStore(embedder embedding.Embedder, maxPerUser int, logger *slog.Logger) *Store {
	s := &Store{
		memories:    make(map[string]*models.Memory),
		userIndex:   make(map[string][]string),
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
		maxPerUser:  maxPerUser,
		logger:      logger,
	}

	if embedder == nil {
		logger.Warn("no embedder configured, semantic search disabled")
		return s
	}

	s.vectors = chromem.NewDB()
	s.ready = true
	return s
}

// IsReady reports whether semantic search is available. The store accepts
// writes either way.
func (s *Store) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// NewMemory builds a fresh pending memory with a sortable id of the form
// stm_<user>_<ulid>. Structured content is flattened to a single string.
func NewMemory(content any, userID string, metadata map[string]any) *models.Memory {
	now := time.Now()
	mem := &models.Memory{
		ID:            fmt.Sprintf("stm_%s_%s", userID, ulid.Make().String()),
		UserID:        userID,
		Content:       NormalizeContent(content),
		Metadata:      metadata,
		CreatedAt:     now,
		LastAccessed:  now,
		AccessCount:   0,
		SalienceScore: Salience(now, now, 0, now),
		UploadStatus:  models.UploadPending,
	}
	if appID, ok := metadata["app_id"].(string); ok {
		mem.AppID = appID
	}
	return mem
}

// AddMemory normalizes content, assigns an id, stores the memory, and indexes
// it for semantic search.
func (s *Store) AddMemory(ctx context.Context, content any, userID string, metadata map[string]any) (*models.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	mem := NewMemory(content, userID, metadata)
	if err := s.Insert(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// Insert stores a prepared memory. Vector indexing is best-effort: on
// embedder failure the memory is still stored and the error only logged.
func (s *Store) Insert(ctx context.Context, mem *models.Memory) error {
	if mem.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	s.memories[mem.ID] = mem
	s.userIndex[mem.UserID] = append(s.userIndex[mem.UserID], mem.ID)
	evicted := s.evictLocked(mem.UserID)
	s.mu.Unlock()

	for _, id := range evicted {
		s.removeVector(ctx, mem.UserID, id)
	}

	if err := s.indexMemory(ctx, mem); err != nil {
		s.logger.Warn("semantic index failed", "id", mem.ID, "error", err)
	}
	return nil
}

// SearchMemories performs semantic search over a user's memories. Results
// below the threshold are dropped. Returned memories get their access count
// and last-accessed time bumped, which feeds the usage half of salience.
func (s *Store) SearchMemories(ctx context.Context, query, userID string, limit int, threshold float64) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if !ready {
		return nil, nil
	}

	col := s.lookupCollection(userID)
	if col == nil {
		return nil, nil
	}

	n := limit
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		score := float64(hit.Similarity)
		if score < threshold {
			continue
		}

		mem := s.touch(hit.ID)
		if mem == nil {
			continue // index out of sync with the map, skip stale hit
		}

		results = append(results, models.SearchResult{
			ID:        mem.ID,
			Content:   mem.Content,
			Score:     score,
			UserID:    mem.UserID,
			Source:    "stm",
			Metadata:  mem.Metadata,
			CreatedAt: mem.CreatedAt,
		})
	}

	return results, nil
}

// GetMemory returns a memory by id, or nil when absent.
func (s *Store) GetMemory(id string) *models.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memories[id]
}

// GetUserMemories returns all memories for a user in insertion order.
func (s *Store) GetUserMemories(userID string) []*models.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.userIndex[userID]
	out := make([]*models.Memory, 0, len(ids))
	for _, id := range ids {
		if mem, ok := s.memories[id]; ok {
			out = append(out, mem)
		}
	}
	return out
}

// DeleteMemory removes a memory from the map, the user index, and the vector
// index. Returns false when the id is unknown.
func (s *Store) DeleteMemory(ctx context.Context, id string) bool {
	s.mu.Lock()
	mem, ok := s.memories[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.memories, id)
	s.userIndex[mem.UserID] = removeID(s.userIndex[mem.UserID], id)
	s.mu.Unlock()

	s.removeVector(ctx, mem.UserID, id)
	return true
}

// GetUploadCandidates returns a user's not-yet-uploaded memories with
// salience at or above minSalience, sorted by descending salience, capped at
// max. Salience is recomputed on the way out.
func (s *Store) GetUploadCandidates(userID string, minSalience float64, max int) []*models.Memory {
	now := time.Now()

	s.mu.Lock()
	var candidates []*models.Memory
	for _, id := range s.userIndex[userID] {
		mem, ok := s.memories[id]
		if !ok || mem.Uploaded() {
			continue
		}
		mem.SalienceScore = Salience(mem.CreatedAt, mem.LastAccessed, mem.AccessCount, now)
		if mem.SalienceScore >= minSalience {
			candidates = append(candidates, mem)
		}
	}
	s.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SalienceScore > candidates[j].SalienceScore
	})
	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

// MarkUploaded transitions a memory to uploaded and records the long-term id
// back-reference. The transition is one-way.
func (s *Store) MarkUploaded(id, ltmID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem, ok := s.memories[id]
	if !ok {
		return
	}
	mem.UploadStatus = models.UploadComplete
	mem.LTMID = ltmID
	if mem.Metadata == nil {
		mem.Metadata = make(map[string]any)
	}
	mem.Metadata["ltm_id"] = ltmID
}

// MarkUploadFailed flags a failed upload attempt. The memory stays eligible
// for retry; an already-uploaded memory is never downgraded.
func (s *Store) MarkUploadFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem, ok := s.memories[id]
	if !ok || mem.Uploaded() {
		return
	}
	mem.UploadStatus = models.UploadFailed
}

// Users returns the ids of all users with at least one memory.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.userIndex))
	for u, ids := range s.userIndex {
		if len(ids) > 0 {
			users = append(users, u)
		}
	}
	return users
}

// Count returns the total number of stored memories.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}

// Clear drops all memories and vector collections. Intended for tests and
// controlled resets.
func (s *Store) Clear() {
	s.mu.Lock()
	s.memories = make(map[string]*models.Memory)
	s.userIndex = make(map[string][]string)
	ready := s.ready
	s.mu.Unlock()

	s.colMu.Lock()
	s.collections = make(map[string]*chromem.Collection)
	if ready {
		s.vectors = chromem.NewDB()
	}
	s.colMu.Unlock()
}

// touch bumps access stats for a returned search hit.
func (s *Store) touch(id string) *models.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem, ok := s.memories[id]
	if !ok {
		return nil
	}
	now := time.Now()
	mem.AccessCount++
	mem.LastAccessed = now
	mem.SalienceScore = Salience(mem.CreatedAt, mem.LastAccessed, mem.AccessCount, now)
	return mem
}

func (s *Store) indexMemory(ctx context.Context, mem *models.Memory) error {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if !ready || mem.Content == "" {
		return nil
	}

	vec, err := s.embedder.Embed(ctx, mem.Content)
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}

	col, err := s.getOrCreateCollection(mem.UserID)
	if err != nil {
		return err
	}

	return col.AddDocument(ctx, chromem.Document{
		ID:        mem.ID,
		Content:   mem.Content,
		Embedding: vec,
		Metadata:  map[string]string{"user_id": mem.UserID},
	})
}

func (s *Store) lookupCollection(userID string) *chromem.Collection {
	s.colMu.RLock()
	defer s.colMu.RUnlock()
	return s.collections[userID]
}

// getOrCreateCollection returns the per-user collection, creating it on first
// use. Each user gets their own collection for namespace isolation.
func (s *Store) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	s.colMu.RLock()
	col, exists := s.collections[userID]
	s.colMu.RUnlock()
	if exists {
		return col, nil
	}

	s.colMu.Lock()
	defer s.colMu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[userID]; exists {
		return col, nil
	}

	col, err := s.vectors.CreateCollection("user_"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

// evictLocked trims a user's memories to the configured cap, dropping
// already-uploaded entries first, then the oldest. Caller holds s.mu and is
// responsible for removing the returned ids from the vector index.
func (s *Store) evictLocked(userID string) []string {
	if s.maxPerUser <= 0 {
		return nil
	}
	var evicted []string
	ids := s.userIndex[userID]
	for len(ids) > s.maxPerUser {
		victim := ""
		for _, id := range ids {
			if mem, ok := s.memories[id]; ok && mem.Uploaded() {
				victim = id
				break
			}
		}
		if victim == "" {
			victim = ids[0]
		}
		delete(s.memories, victim)
		ids = removeID(ids, victim)
		evicted = append(evicted, victim)
	}
	s.userIndex[userID] = ids
	return evicted
}

// removeVector drops a memory's embedding from the user's collection.
func (s *Store) removeVector(ctx context.Context, userID, id string) {
	col := s.lookupCollection(userID)
	if col == nil {
		return
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		s.logger.Warn("vector delete failed", "id", id, "error", err)
	}
}

// NormalizeContent flattens string or structured content into a single
// string. Lists are joined with newlines; map entries contribute their
// "content" or "text" values when present.
func NormalizeContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, "\n")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := NormalizeContent(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if s, ok := v["content"].(string); ok {
			return s
		}
		if s, ok := v["text"].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
