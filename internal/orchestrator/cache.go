package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/jeanmemory/jean-memory-go/internal/embedding"
	"github.com/jeanmemory/jean-memory-go/internal/models"
	"github.com/jeanmemory/jean-memory-go/internal/search"
)

// ErrTooLarge marks content the fast cache refuses to hold. The orchestrator
// treats it as a fall-through signal rather than a tier failure.
var ErrTooLarge = errors.New("content exceeds cache item limit")

var errTierAddFailed = errors.New("tier rejected write")

// FastCache is the first tier: a cost-bounded in-memory cache for the most
// recent raw memories per user. Lookup by id goes through ristretto; keyword
// search walks a small authoritative ring of recent entries per user, since
// ristretto is not iterable and may evict under cost pressure at any time.
type FastCache struct {
	cache        *ristretto.Cache
	mu           sync.RWMutex
	recent       map[string][]*models.Memory
	perUser      int
	maxItemBytes int
	logger       *slog.Logger
}

// NewFastCache builds the tier with maxBytes as the total cost budget,
// perUser entries kept searchable per user, and maxItemBytes as the largest
// content the cache will accept.
func NewFastCache(maxBytes int64, perUser, maxItemBytes int, logger *slog.Logger) (*FastCache, error) {
	if perUser <= 0 {
		perUser = 50
	}
	if maxItemBytes <= 0 {
		maxItemBytes = 10 * 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FastCache{
		cache:        cache,
		recent:       make(map[string][]*models.Memory),
		perUser:      perUser,
		maxItemBytes: maxItemBytes,
		logger:       logger,
	}, nil
}

func (f *FastCache) Name() string         { return "cache" }
func (f *FastCache) Priority() int        { return 1 }
func (f *FastCache) IsReady() bool        { return f.cache != nil }
func (f *FastCache) SupportsSearch() bool { return true }

func (f *FastCache) Add(ctx context.Context, mem *models.Memory) error {
	if len(mem.Content) > f.maxItemBytes {
		return ErrTooLarge
	}

	f.cache.Set(mem.ID, mem, int64(len(mem.Content))+1)

	f.mu.Lock()
	ring := append(f.recent[mem.UserID], mem)
	if len(ring) > f.perUser {
		evicted := ring[:len(ring)-f.perUser]
		ring = ring[len(ring)-f.perUser:]
		for _, old := range evicted {
			f.cache.Del(old.ID)
		}
	}
	f.recent[mem.UserID] = ring
	f.mu.Unlock()

	return nil
}

func (f *FastCache) Get(ctx context.Context, id string) *models.Memory {
	if val, ok := f.cache.Get(id); ok {
		if mem, ok := val.(*models.Memory); ok {
			return mem
		}
	}

	// Admission may have rejected the Set; the ring is authoritative.
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ring := range f.recent {
		for _, mem := range ring {
			if mem.ID == id {
				return mem
			}
		}
	}
	return nil
}

// Search scores recent entries for the user by token overlap with the query
// and returns the highest-scoring matches above the threshold.
func (f *FastCache) Search(ctx context.Context, query, userID string, limit int, threshold float64) ([]models.SearchResult, error) {
	queryTokens := embedding.Tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	f.mu.RLock()
	ring := make([]*models.Memory, len(f.recent[userID]))
	copy(ring, f.recent[userID])
	f.mu.RUnlock()

	var results []models.SearchResult
	for _, mem := range ring {
		score := search.TokenOverlap(queryTokens, embedding.Tokenize(mem.Content))
		if score < threshold {
			continue
		}
		results = append(results, models.SearchResult{
			ID:        mem.ID,
			Content:   mem.Content,
			Score:     score,
			UserID:    mem.UserID,
			Source:    "cache",
			Metadata:  mem.Metadata,
			CreatedAt: mem.CreatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *FastCache) Delete(ctx context.Context, id string) bool {
	f.cache.Del(id)

	f.mu.Lock()
	defer f.mu.Unlock()
	for userID, ring := range f.recent {
		for i, mem := range ring {
			if mem.ID == id {
				f.recent[userID] = append(ring[:i], ring[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Wait flushes pending ristretto set buffers. Tests use it to make Get
// deterministic after Add.
func (f *FastCache) Wait() { f.cache.Wait() }

// Close releases the underlying cache.
func (f *FastCache) Close() { f.cache.Close() }
