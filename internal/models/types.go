package models

import "time"

// ShuttleConfig holds process-wide tunables for background STM<->LTM movement.
type ShuttleConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	BatchTimeout      time.Duration `yaml:"batch_timeout"`
	MaxBatchBytes     int           `yaml:"max_batch_bytes"`
	MinSalience       float64       `yaml:"min_salience"`
	MaxPendingPerUser int           `yaml:"max_pending_per_user"`
	PreloadCount      int           `yaml:"preload_count"`
	PreloadInterval   time.Duration `yaml:"preload_interval"`
	UploadInterval    time.Duration `yaml:"upload_interval"`
	EnableDedup       bool          `yaml:"enable_dedup"`
	DedupThreshold    float64       `yaml:"dedup_threshold"`
	DedupLookback     int           `yaml:"dedup_lookback"`
}

// DefaultShuttleConfig returns the stock tunables.
func DefaultShuttleConfig() ShuttleConfig {
	return ShuttleConfig{
		BatchSize:         10,
		BatchTimeout:      30 * time.Second,
		MaxBatchBytes:     5 * 1024 * 1024,
		MinSalience:       0.3,
		MaxPendingPerUser: 100,
		PreloadCount:      20,
		PreloadInterval:   60 * time.Minute,
		UploadInterval:    60 * time.Second,
		EnableDedup:       true,
		DedupThreshold:    0.95,
		DedupLookback:     50,
	}
}

// ShuttleStats accumulates observability counters for the shuttle.
type ShuttleStats struct {
	UploadsCompleted  int64      `json:"uploadsCompleted"`
	UploadsFailed     int64      `json:"uploadsFailed"`
	DedupSaves        int64      `json:"dedupSaves"`
	PreloadsCompleted int64      `json:"preloadsCompleted"`
	QueuedTotal       int64      `json:"queuedTotal"`
	LastUploadAt      *time.Time `json:"lastUploadAt,omitempty"`
	LastPreloadAt     *time.Time `json:"lastPreloadAt,omitempty"`
}

// UploadResult is returned from a forced or scheduled upload pass.
type UploadResult struct {
	Uploaded        int    `json:"uploaded"`
	Failed          int    `json:"failed"`
	TotalCandidates int    `json:"totalCandidates"`
	Error           string `json:"error,omitempty"`
}

// PreloadResult is returned from a hot-memory preload pass.
type PreloadResult struct {
	Preloaded int    `json:"preloaded"`
	TotalHot  int    `json:"totalHot"`
	Error     string `json:"error,omitempty"`
}

// TierBreakdown describes one tier's contribution to a hybrid search.
type TierBreakdown struct {
	Results   int     `json:"results"`
	LatencyMs float64 `json:"latencyMs"`
	Error     string  `json:"error,omitempty"`
}

// HybridSearchResponse carries merged results plus per-tier provenance.
type HybridSearchResponse struct {
	Results []SearchResult           `json:"results"`
	Tiers   map[string]TierBreakdown `json:"tiers"`
}

// AddResult reports where a hybrid write synchronously landed.
type AddResult struct {
	Memory *Memory `json:"memory"`
	Tier   string  `json:"tier"`
}

// TierStats is a running latency average for one tier.
type TierStats struct {
	Calls        int64   `json:"calls"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// --- HTTP API payloads ---

// AddMemoryRequest is the payload for POST /memories. Content may be a plain
// string or a list of strings/objects; structured content is flattened before
// storage.
type AddMemoryRequest struct {
	Content  any            `json:"content"`
	UserID   string         `json:"userId"`
	AppID    string         `json:"appId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchRequest is the payload for POST /memories/search.
type SearchRequest struct {
	Query     string  `json:"query"`
	UserID    string  `json:"userId"`
	Limit     int     `json:"limit"`
	Threshold float64 `json:"threshold"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status   string       `json:"status"`
	Embedder ServiceCheck `json:"embedder"`
	LTM      ServiceCheck `json:"ltm"`
	DB       ServiceCheck `json:"db"`
	STMCount int          `json:"stmCount"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
