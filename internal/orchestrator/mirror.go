package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeanmemory/jean-memory-go/internal/models"
)

type mirrorJob struct {
	tier Tier
	mem  *models.Memory
}

// mirrorQueue propagates writes to slower tiers off the request path. The
// channel is bounded; when it is full new jobs are dropped and counted
// instead of blocking the caller.
type mirrorQueue struct {
	jobs    chan mirrorJob
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
	timeout time.Duration
	logger  *slog.Logger
}

func newMirrorQueue(size, workers int, logger *slog.Logger) *mirrorQueue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 2
	}
	q := &mirrorQueue{
		jobs:    make(chan mirrorJob, size),
		timeout: 30 * time.Second,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *mirrorQueue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := job.tier.Add(ctx, job.mem)
		cancel()
		if err != nil {
			q.failed.Add(1)
			q.logger.Warn("mirror write failed",
				"tier", job.tier.Name(), "id", job.mem.ID, "error", err)
		}
	}
}

// enqueue hands a write to the background workers. It never blocks: a full
// queue drops the job and logs it.
func (q *mirrorQueue) enqueue(tier Tier, mem *models.Memory) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.jobs <- mirrorJob{tier: tier, mem: mem}:
	default:
		q.dropped.Add(1)
		q.logger.Warn("mirror queue full, dropping write",
			"tier", tier.Name(), "id", mem.ID)
	}
}

// close drains outstanding jobs and stops the workers.
func (q *mirrorQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}
