// Package jeanmemory is the facade over the hybrid memory stack. It wires the
// short-term store, the long-term client, the shuttle, and the orchestrator
// together and exposes the operations the API layer calls.
package jeanmemory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeanmemory/jean-memory-go/internal/embedding"
	"github.com/jeanmemory/jean-memory-go/internal/ltm"
	"github.com/jeanmemory/jean-memory-go/internal/models"
	"github.com/jeanmemory/jean-memory-go/internal/orchestrator"
	"github.com/jeanmemory/jean-memory-go/internal/sessions"
	"github.com/jeanmemory/jean-memory-go/internal/shuttle"
	"github.com/jeanmemory/jean-memory-go/internal/stm"
	"github.com/jeanmemory/jean-memory-go/internal/store"
)

// ErrNotInitialized is returned when an operation runs before Initialize.
var ErrNotInitialized = errors.New("memory service not initialized")

// Options carries everything the facade needs. Nil optional fields disable
// the corresponding capability rather than failing.
type Options struct {
	Embedder        embedding.Embedder
	LTMBaseURL      string
	LTMAPIKey       string
	LTMMaxRetries   int
	LTMRetryDelay   time.Duration
	LTMTimeout      time.Duration
	STMMaxPerUser   int
	SearchThreshold float64

	CacheMaxBytes     int64
	CachePerUser      int
	CacheMaxItemBytes int

	MirrorQueueSize int
	MirrorWorkers   int

	Shuttle models.ShuttleConfig

	SessionStore   *store.SessionStore
	SessionIdleTTL time.Duration

	Logger *slog.Logger
}

// Service is the top-level entry point for hybrid memory operations.
type Service struct {
	opts Options

	stm     *stm.Store
	ltm     *ltm.Client
	shuttle *shuttle.Shuttle
	cache   *orchestrator.FastCache
	orch    *orchestrator.Orchestrator
	session *sessions.Service

	threshold   float64
	initialized bool
	logger      *slog.Logger
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := opts.SearchThreshold
	if threshold <= 0 {
		threshold = 0.2
	}
	return &Service{opts: opts, threshold: threshold, logger: logger}
}

// Initialize brings the tiers up in dependency order: short-term store,
// long-term client, shuttle, fast cache, orchestrator, sessions. Long-term
// failures leave that tier degraded; everything else must succeed.
func (s *Service) Initialize(ctx context.Context) error {
	if s.initialized {
		return nil
	}

	s.stm = stm.NewStore(s.opts.Embedder, s.opts.STMMaxPerUser, s.logger)

	s.ltm = ltm.NewClient(ltm.Options{
		BaseURL:    s.opts.LTMBaseURL,
		APIKey:     s.opts.LTMAPIKey,
		MaxRetries: s.opts.LTMMaxRetries,
		RetryDelay: s.opts.LTMRetryDelay,
		Timeout:    s.opts.LTMTimeout,
	}, s.logger)
	s.ltm.Initialize(ctx)

	s.shuttle = shuttle.New(s.stm, s.ltm, s.opts.Shuttle, s.logger)
	s.shuttle.Start()

	cache, err := orchestrator.NewFastCache(s.opts.CacheMaxBytes, s.opts.CachePerUser, s.opts.CacheMaxItemBytes, s.logger)
	if err != nil {
		return fmt.Errorf("initializing fast cache: %w", err)
	}
	s.cache = cache

	s.orch = orchestrator.New([]orchestrator.Tier{
		cache,
		orchestrator.NewSTMTier(s.stm),
		orchestrator.NewLTMTier(s.ltm),
	}, orchestrator.Options{
		MirrorQueueSize: s.opts.MirrorQueueSize,
		MirrorWorkers:   s.opts.MirrorWorkers,
		Logger:          s.logger,
	})

	if s.opts.SessionStore != nil {
		s.session = sessions.NewService(s.opts.SessionStore, s.opts.SessionIdleTTL, s.logger)
	}

	s.initialized = true
	s.logger.Info("memory service initialized",
		"ltm_ready", s.ltm.IsReady(),
		"stm_search", s.stm.IsReady())
	return nil
}

// IsReady reports whether Initialize has completed.
func (s *Service) IsReady() bool { return s.initialized }

// LTMReady reports whether the long-term tier is available.
func (s *Service) LTMReady() bool { return s.initialized && s.ltm.IsReady() }

// AddMemory stores content through the orchestrator and queues it for
// eventual long-term upload.
func (s *Service) AddMemory(ctx context.Context, content any, userID, appID string, metadata map[string]any) (*models.AddResult, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	if appID != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["app_id"] = appID
	}

	result, err := s.orch.AddMemory(ctx, content, userID, metadata)
	if err != nil {
		return nil, err
	}
	s.shuttle.QueueForUpload(userID, result.Memory.ID)
	return result, nil
}

// SearchMemories runs a hybrid search across all ready tiers.
func (s *Service) SearchMemories(ctx context.Context, query, userID string, limit int, threshold float64) (*models.HybridSearchResponse, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if threshold <= 0 {
		threshold = s.threshold
	}
	return s.orch.SearchMemory(ctx, query, userID, limit, threshold)
}

// GetMemory fetches one memory by id, fastest tier first.
func (s *Service) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.orch.GetMemory(ctx, id), nil
}

// DeleteMemory removes a memory from every tier that holds it.
func (s *Service) DeleteMemory(ctx context.Context, id string) (bool, error) {
	if !s.initialized {
		return false, ErrNotInitialized
	}
	return s.orch.DeleteMemory(ctx, id), nil
}

// GetUserMemories lists a user's short-term memories.
func (s *Service) GetUserMemories(userID string) ([]*models.Memory, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.stm.GetUserMemories(userID), nil
}

// ForceSyncToLTM pushes a user's eligible memories to long-term storage now.
func (s *Service) ForceSyncToLTM(ctx context.Context, userID string) (models.UploadResult, error) {
	if !s.initialized {
		return models.UploadResult{}, ErrNotInitialized
	}
	return s.shuttle.ForceUploadUserMemories(ctx, userID), nil
}

// PreloadHotMemories pulls a user's hottest long-term memories into the
// short-term store.
func (s *Service) PreloadHotMemories(ctx context.Context, userID string) (models.PreloadResult, error) {
	if !s.initialized {
		return models.PreloadResult{}, ErrNotInitialized
	}
	return s.shuttle.PreloadHotMemories(ctx, userID), nil
}

// ShuttleStats snapshots the background sync counters.
func (s *Service) ShuttleStats() (models.ShuttleStats, error) {
	if !s.initialized {
		return models.ShuttleStats{}, ErrNotInitialized
	}
	return s.shuttle.Stats(), nil
}

// Stats reports per-tier call counts and latencies plus store sizes.
func (s *Service) Stats() (map[string]any, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return map[string]any{
		"tiers":          s.orch.TierStats(),
		"stmCount":       s.stm.Count(),
		"stmUsers":       len(s.stm.Users()),
		"mirrorBacklog":  s.orch.MirrorBacklog(),
		"mirrorDropped":  s.orch.MirrorDropped(),
		"shuttle":        s.shuttle.Stats(),
		"ltmReady":       s.ltm.IsReady(),
		"semanticSearch": s.stm.IsReady(),
	}, nil
}

// CreateSession starts a session for the user.
func (s *Service) CreateSession(userID string, metadata map[string]any) (*models.Session, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if s.session == nil {
		return nil, fmt.Errorf("sessions are not configured")
	}
	return s.session.Create(userID, metadata)
}

// GetSession fetches a session and refreshes its idle clock.
func (s *Service) GetSession(id string) (*models.Session, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if s.session == nil {
		return nil, fmt.Errorf("sessions are not configured")
	}
	return s.session.Get(id)
}

// UpdateSession merges state and appends context onto a session.
func (s *Service) UpdateSession(id string, req *models.UpdateSessionRequest) (*models.Session, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if s.session == nil {
		return nil, fmt.Errorf("sessions are not configured")
	}
	return s.session.Update(id, req)
}

// DeleteSession removes a session.
func (s *Service) DeleteSession(id string) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.session == nil {
		return fmt.Errorf("sessions are not configured")
	}
	return s.session.Delete(id)
}

// Sessions exposes the session service for maintenance jobs. Nil when
// sessions are not configured.
func (s *Service) Sessions() *sessions.Service { return s.session }

// STMCount reports how many memories the short-term store holds.
func (s *Service) STMCount() int {
	if !s.initialized {
		return 0
	}
	return s.stm.Count()
}

// Close stops background work: the shuttle loops first, then the mirror
// queue drain, then the cache.
func (s *Service) Close() {
	if !s.initialized {
		return
	}
	s.shuttle.Stop()
	s.orch.Close()
	s.cache.Close()
	s.initialized = false
	s.logger.Info("memory service closed")
}
