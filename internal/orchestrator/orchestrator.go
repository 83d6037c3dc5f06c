package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jeanmemory/jean-memory-go/internal/models"
	"github.com/jeanmemory/jean-memory-go/internal/stm"
)

// Orchestrator routes reads and writes across the registered tiers. Writes
// land synchronously in the fastest ready tier and are mirrored to the rest
// in the background; searches fan out to every searchable tier concurrently
// and merge by exact content, keeping the best bonus-adjusted score.
type Orchestrator struct {
	tiers  []Tier
	mirror *mirrorQueue

	statsMu sync.Mutex
	stats   map[string]*tierAgg

	logger *slog.Logger
}

type tierAgg struct {
	calls int64
	total time.Duration
}

// Options tune the background mirror queue.
type Options struct {
	MirrorQueueSize int
	MirrorWorkers   int
	Logger          *slog.Logger
}

// New builds an orchestrator over the given tiers, sorted by priority.
func New(tiers []Tier, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	return &Orchestrator{
		tiers:  sorted,
		mirror: newMirrorQueue(opts.MirrorQueueSize, opts.MirrorWorkers, logger),
		stats:  make(map[string]*tierAgg),
		logger: logger,
	}
}

// AddMemory writes to the fastest ready tier and queues mirrors to every
// other ready tier. It fails only when no ready tier accepts the write.
func (o *Orchestrator) AddMemory(ctx context.Context, content any, userID string, metadata map[string]any) (*models.AddResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	// Empty content is stored like any other memory; the short-term store
	// simply skips semantic indexing for it.
	mem := stm.NewMemory(content, userID, metadata)

	var landed Tier
	for _, tier := range o.tiers {
		if !tier.IsReady() {
			continue
		}
		start := time.Now()
		err := tier.Add(ctx, mem)
		o.observe(tier.Name(), time.Since(start))
		if err == nil {
			landed = tier
			break
		}
		if errors.Is(err, ErrTooLarge) {
			continue
		}
		o.logger.Warn("tier write failed", "tier", tier.Name(), "id", mem.ID, "error", err)
	}
	if landed == nil {
		return nil, fmt.Errorf("no available tier accepted the write")
	}

	for _, tier := range o.tiers {
		if tier == landed || !tier.IsReady() {
			continue
		}
		if tier.Name() == "ltm" {
			// The shuttle owns long-term uploads: it batches, dedups, and
			// tracks upload status. Mirroring straight to LTM would bypass
			// all of that.
			continue
		}
		o.mirror.enqueue(tier, mem)
	}

	return &models.AddResult{Memory: mem, Tier: landed.Name()}, nil
}

// SearchMemory fans the query out to every searchable tier, tolerating
// per-tier failures, and merges results by exact content.
func (o *Orchestrator) SearchMemory(ctx context.Context, query, userID string, limit int, threshold float64) (*models.HybridSearchResponse, error) {
	if query == "" || userID == "" {
		return nil, fmt.Errorf("query and user id are required")
	}
	if limit <= 0 {
		limit = 10
	}

	type tierOutcome struct {
		tier    Tier
		results []models.SearchResult
		err     error
		took    time.Duration
	}

	var wg sync.WaitGroup
	outcomes := make(chan tierOutcome, len(o.tiers))
	for _, tier := range o.tiers {
		if !tier.IsReady() || !tier.SupportsSearch() {
			continue
		}
		wg.Add(1)
		go func(t Tier) {
			defer wg.Done()
			start := time.Now()
			results, err := t.Search(ctx, query, userID, limit, threshold)
			outcomes <- tierOutcome{tier: t, results: results, err: err, took: time.Since(start)}
		}(tier)
	}
	wg.Wait()
	close(outcomes)

	resp := &models.HybridSearchResponse{Tiers: make(map[string]models.TierBreakdown)}
	best := make(map[string]models.SearchResult)
	for out := range outcomes {
		name := out.tier.Name()
		o.observe(name, out.took)
		if out.err != nil {
			o.logger.Warn("tier search failed", "tier", name, "error", out.err)
			resp.Tiers[name] = models.TierBreakdown{Error: out.err.Error(), LatencyMs: float64(out.took.Microseconds()) / 1000}
			continue
		}
		resp.Tiers[name] = models.TierBreakdown{Results: len(out.results), LatencyMs: float64(out.took.Microseconds()) / 1000}

		bonus := priorityBonus(out.tier.Priority())
		for _, r := range out.results {
			r.Score += bonus
			if prev, ok := best[r.Content]; !ok || r.Score > prev.Score {
				best[r.Content] = r
			}
		}
	}

	merged := make([]models.SearchResult, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	resp.Results = merged
	return resp, nil
}

// GetMemory checks tiers fastest-first and returns the first hit.
func (o *Orchestrator) GetMemory(ctx context.Context, id string) *models.Memory {
	for _, tier := range o.tiers {
		if !tier.IsReady() {
			continue
		}
		if mem := tier.Get(ctx, id); mem != nil {
			return mem
		}
	}
	return nil
}

// DeleteMemory removes the id from every ready tier to avoid resurrection
// via a later mirror or preload. Reports whether any tier held it.
func (o *Orchestrator) DeleteMemory(ctx context.Context, id string) bool {
	deleted := false
	for _, tier := range o.tiers {
		if !tier.IsReady() {
			continue
		}
		if tier.Delete(ctx, id) {
			deleted = true
		}
	}
	return deleted
}

// TierStats reports call counts and running-average latency per tier.
func (o *Orchestrator) TierStats() map[string]models.TierStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	out := make(map[string]models.TierStats, len(o.stats))
	for name, agg := range o.stats {
		avg := float64(0)
		if agg.calls > 0 {
			avg = float64(agg.total.Microseconds()) / 1000 / float64(agg.calls)
		}
		out[name] = models.TierStats{Calls: agg.calls, AvgLatencyMs: avg}
	}
	return out
}

// MirrorBacklog reports jobs waiting in the mirror queue.
func (o *Orchestrator) MirrorBacklog() int { return len(o.mirror.jobs) }

// MirrorDropped reports writes discarded because the queue was full.
func (o *Orchestrator) MirrorDropped() int64 { return o.mirror.dropped.Load() }

// Close drains the mirror queue and stops its workers.
func (o *Orchestrator) Close() { o.mirror.close() }

func (o *Orchestrator) observe(tier string, took time.Duration) {
	o.statsMu.Lock()
	agg, ok := o.stats[tier]
	if !ok {
		agg = &tierAgg{}
		o.stats[tier] = agg
	}
	agg.calls++
	agg.total += took
	o.statsMu.Unlock()
}

func priorityBonus(priority int) float64 {
	switch priority {
	case 1:
		return 0.10
	case 2:
		return 0.05
	default:
		return 0
	}
}
