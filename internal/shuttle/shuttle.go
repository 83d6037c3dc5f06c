package shuttle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jeanmemory/jean-memory-go/internal/ltm"
	"github.com/jeanmemory/jean-memory-go/internal/models"
	"github.com/jeanmemory/jean-memory-go/internal/stm"
)

// Shuttle moves memories between STM and LTM in both directions without
// blocking foreground requests. Two background loops run while started: the
// upload loop drains per-user queues, the preload loop pulls hot memories
// from LTM into STM.
type Shuttle struct {
	stm *stm.Store
	ltm *ltm.Client
	cfg models.ShuttleConfig

	mu       sync.Mutex
	queues   map[string][]string        // user id -> pending memory ids, insertion order
	queued   map[string]map[string]bool // user id -> set for dedup on insert
	attempts map[string]map[string]int  // user id -> flush attempts for ids not yet in STM

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	statsMu sync.Mutex
	stats   models.ShuttleStats

	logger *slog.Logger
}

func New(stmStore *stm.Store, ltmClient *ltm.Client, cfg models.ShuttleConfig, logger *slog.Logger) *Shuttle {
	return &Shuttle{
		stm:      stmStore,
		ltm:      ltmClient,
		cfg:      cfg,
		queues:   make(map[string][]string),
		queued:   make(map[string]map[string]bool),
		attempts: make(map[string]map[string]int),
		logger:   logger,
	}
}

// QueueForUpload enqueues a memory id for background upload. Duplicate ids in
// a user's queue are ignored; a full queue drops the oldest entry.
func (s *Shuttle) QueueForUpload(userID, memoryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.queued[userID]
	if set == nil {
		set = make(map[string]bool)
		s.queued[userID] = set
	}
	if set[memoryID] {
		return
	}

	if s.cfg.MaxPendingPerUser > 0 && len(s.queues[userID]) >= s.cfg.MaxPendingPerUser {
		oldest := s.queues[userID][0]
		s.queues[userID] = s.queues[userID][1:]
		delete(set, oldest)
		s.logger.Warn("upload queue full, dropping oldest", "user", userID, "dropped", oldest)
	}

	set[memoryID] = true
	s.queues[userID] = append(s.queues[userID], memoryID)

	s.statsMu.Lock()
	s.stats.QueuedTotal++
	s.statsMu.Unlock()
}

// Start launches the background loops. Starting an already-running shuttle is
// a no-op.
func (s *Shuttle) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(2)
	go s.uploadLoop()
	go s.preloadLoop()
	s.logger.Info("shuttle started",
		"upload_interval", s.cfg.UploadInterval,
		"preload_interval", s.cfg.PreloadInterval,
	)
}

// Stop signals the loops and waits for them to exit at their next wake-up.
// Stopping a shuttle that is not running is a no-op. In-flight uploads finish
// normally.
func (s *Shuttle) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("shuttle stopped")
}

func (s *Shuttle) uploadLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.UploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drainQueues()
		}
	}
}

func (s *Shuttle) preloadLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PreloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BatchTimeout)
			for _, user := range s.stm.Users() {
				res := s.PreloadHotMemories(ctx, user)
				if res.Preloaded > 0 {
					s.logger.Info("preloaded hot memories", "user", user, "count", res.Preloaded)
				}
			}
			cancel()
		}
	}
}

// drainQueues flushes every user's pending queue once.
func (s *Shuttle) drainQueues() {
	s.mu.Lock()
	users := make([]string, 0, len(s.queues))
	for u, ids := range s.queues {
		if len(ids) > 0 {
			users = append(users, u)
		}
	}
	s.mu.Unlock()

	for _, user := range users {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BatchTimeout)
		res := s.flushUser(ctx, user)
		cancel()
		if res.Uploaded > 0 || res.Failed > 0 {
			s.logger.Info("upload batch done",
				"user", user,
				"uploaded", res.Uploaded,
				"failed", res.Failed,
			)
		}
	}
}

// maxFlushAttempts bounds how many flush cycles a queued id may spend
// waiting for its memory to appear in STM before it is dropped.
const maxFlushAttempts = 5

// flushUser takes up to BatchSize queued ids for a user and uploads them.
// An id can be queued before its memory reaches STM, because writes that
// land in the cache tier arrive in STM through the async mirror. Such ids
// go back on the queue and get retried on later cycles.
func (s *Shuttle) flushUser(ctx context.Context, userID string) models.UploadResult {
	if !s.ltm.IsReady() {
		return models.UploadResult{Error: "ltm not available"}
	}

	s.mu.Lock()
	ids := s.queues[userID]
	n := len(ids)
	if s.cfg.BatchSize > 0 && n > s.cfg.BatchSize {
		n = s.cfg.BatchSize
	}
	batch := make([]string, n)
	copy(batch, ids[:n])
	s.queues[userID] = ids[n:]
	for _, id := range batch {
		delete(s.queued[userID], id)
	}
	s.mu.Unlock()

	var memories []*models.Memory
	var notInSTM []string
	for _, id := range batch {
		mem := s.stm.GetMemory(id)
		if mem == nil {
			notInSTM = append(notInSTM, id)
			continue
		}
		s.clearAttempts(userID, id)
		if mem.Uploaded() {
			continue
		}
		memories = append(memories, mem)
	}
	if len(notInSTM) > 0 {
		s.requeueMissing(userID, notInSTM)
	}

	return s.uploadBatch(ctx, userID, memories)
}

// requeueMissing puts ids whose memory is not yet in STM back on the queue,
// dropping any id that has already waited maxFlushAttempts cycles.
func (s *Shuttle) requeueMissing(userID string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tries := s.attempts[userID]
	if tries == nil {
		tries = make(map[string]int)
		s.attempts[userID] = tries
	}
	set := s.queued[userID]
	if set == nil {
		set = make(map[string]bool)
		s.queued[userID] = set
	}

	for _, id := range ids {
		tries[id]++
		if tries[id] >= maxFlushAttempts {
			delete(tries, id)
			s.logger.Warn("dropping queued id never seen in short-term store",
				"user", userID, "id", id, "attempts", maxFlushAttempts)
			continue
		}
		if set[id] {
			continue
		}
		set[id] = true
		s.queues[userID] = append(s.queues[userID], id)
	}
}

func (s *Shuttle) clearAttempts(userID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tries := s.attempts[userID]; tries != nil {
		delete(tries, id)
	}
}

// ForceUploadUserMemories synchronously uploads a user's best candidates,
// bypassing the queue. Fails fast when LTM is unavailable.
func (s *Shuttle) ForceUploadUserMemories(ctx context.Context, userID string) models.UploadResult {
	if !s.ltm.IsReady() {
		return models.UploadResult{Error: "ltm not available"}
	}

	candidates := s.stm.GetUploadCandidates(userID, s.cfg.MinSalience, s.cfg.MaxPendingPerUser)
	res := s.uploadBatch(ctx, userID, candidates)
	res.TotalCandidates = len(candidates)
	return res
}

// uploadBatch deduplicates candidates against recent LTM content and uploads
// each sequentially. Individual failures are counted, not fatal; failed items
// stay pending and retry on the next interval.
func (s *Shuttle) uploadBatch(ctx context.Context, userID string, candidates []*models.Memory) models.UploadResult {
	res := models.UploadResult{TotalCandidates: len(candidates)}
	if len(candidates) == 0 {
		return res
	}

	candidates = s.deduplicateCandidates(ctx, userID, candidates)

	batchBytes := 0
	for _, mem := range candidates {
		if s.cfg.MaxBatchBytes > 0 && batchBytes+len(mem.Content) > s.cfg.MaxBatchBytes {
			s.logger.Warn("batch payload cap reached", "user", userID, "uploaded", res.Uploaded)
			break
		}

		rec := s.ltm.UploadMemory(ctx, mem.Content, mem.UserID, mem.AppID, mem.Metadata)
		if rec == nil {
			s.stm.MarkUploadFailed(mem.ID)
			res.Failed++
			s.bumpStats(func(st *models.ShuttleStats) { st.UploadsFailed++ })
			continue
		}

		s.stm.MarkUploaded(mem.ID, rec.ID)
		batchBytes += len(mem.Content)
		res.Uploaded++
		now := time.Now()
		s.bumpStats(func(st *models.ShuttleStats) {
			st.UploadsCompleted++
			st.LastUploadAt = &now
		})
	}

	return res
}

// PreloadHotMemories pulls LTM's hot memories into STM, skipping content the
// user already has. Preloaded copies are tagged and marked pre-uploaded so
// the shuttle never re-uploads them.
func (s *Shuttle) PreloadHotMemories(ctx context.Context, userID string) models.PreloadResult {
	if !s.ltm.IsReady() {
		return models.PreloadResult{Error: "ltm not available"}
	}

	hot := s.ltm.GetHotMemories(ctx, userID, s.cfg.PreloadCount)
	res := models.PreloadResult{TotalHot: len(hot)}
	if len(hot) == 0 {
		return res
	}

	existing := make(map[string]bool)
	for _, mem := range s.stm.GetUserMemories(userID) {
		existing[mem.Content] = true
	}

	for _, rec := range hot {
		if rec.Content == "" || existing[rec.Content] {
			continue
		}

		metadata := map[string]any{
			"preloaded_from_ltm": true,
			"ltm_id":             rec.ID,
		}
		mem, err := s.stm.AddMemory(ctx, rec.Content, userID, metadata)
		if err != nil {
			s.logger.Warn("preload add failed", "user", userID, "error", err)
			continue
		}
		s.stm.MarkUploaded(mem.ID, rec.ID)
		existing[rec.Content] = true
		res.Preloaded++
	}

	if res.Preloaded > 0 {
		now := time.Now()
		s.bumpStats(func(st *models.ShuttleStats) {
			st.PreloadsCompleted += int64(res.Preloaded)
			st.LastPreloadAt = &now
		})
	}

	return res
}

// deduplicateCandidates drops candidates whose content exactly matches a
// recent LTM memory. When dedup is disabled no LTM lookup happens at all. On
// LTM error it fails open, returning the candidates unfiltered, so uploads
// are never blocked by a dedup outage.
func (s *Shuttle) deduplicateCandidates(ctx context.Context, userID string, candidates []*models.Memory) []*models.Memory {
	if !s.cfg.EnableDedup || len(candidates) == 0 {
		return candidates
	}

	recent := s.ltm.GetUserMemories(ctx, userID, s.cfg.DedupLookback, 0)
	if recent == nil {
		return candidates // fail open
	}

	seen := make(map[string]string, len(recent))
	for _, rec := range recent {
		seen[rec.Content] = rec.ID
	}

	kept := candidates[:0]
	dropped := 0
	for _, mem := range candidates {
		if ltmID, ok := seen[mem.Content]; ok {
			// Content already persisted remotely; link it instead of re-uploading.
			s.stm.MarkUploaded(mem.ID, ltmID)
			dropped++
			continue
		}
		kept = append(kept, mem)
	}

	if dropped > 0 {
		s.bumpStats(func(st *models.ShuttleStats) { st.DedupSaves += int64(dropped) })
		s.logger.Debug("dedup dropped duplicates", "user", userID, "count", dropped)
	}
	return kept
}

// Stats returns a snapshot of the shuttle's counters.
func (s *Shuttle) Stats() models.ShuttleStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// PendingCount returns the number of queued ids for a user.
func (s *Shuttle) PendingCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[userID])
}

func (s *Shuttle) bumpStats(fn func(*models.ShuttleStats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}
