package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int    `yaml:"port"`
	DBPath   string `yaml:"dbPath"`
	LogLevel string `yaml:"logLevel"`
	APIKey   string `yaml:"apiKey"`
	// Embedder
	EmbedderBaseURL string `yaml:"embedderBaseUrl"`
	EmbeddingModel  string `yaml:"embeddingModel"`
	EmbeddingDim    int    `yaml:"embeddingDim"`
	// Long-term store
	LTMBaseURL    string        `yaml:"ltmBaseUrl"`
	LTMAPIKey     string        `yaml:"ltmApiKey"`
	LTMMaxRetries int           `yaml:"ltmMaxRetries"`
	LTMRetryDelay time.Duration `yaml:"ltmRetryDelay"`
	LTMTimeout    time.Duration `yaml:"ltmTimeout"`
	// Short-term store
	STMMaxPerUser     int     `yaml:"stmMaxPerUser"`
	SearchThreshold   float64 `yaml:"searchThreshold"`
	DefaultMaxResults int     `yaml:"defaultMaxResults"`
	// Fast cache
	CacheMaxBytes     int64 `yaml:"cacheMaxBytes"`
	CachePerUser      int   `yaml:"cachePerUser"`
	CacheMaxItemBytes int   `yaml:"cacheMaxItemBytes"`
	// Mirror queue
	MirrorQueueSize int `yaml:"mirrorQueueSize"`
	MirrorWorkers   int `yaml:"mirrorWorkers"`
	// Shuttle tuning
	ShuttleBatchSize      int           `yaml:"shuttleBatchSize"`
	ShuttleUploadInterval time.Duration `yaml:"shuttleUploadInterval"`
	ShuttleMinSalience    float64       `yaml:"shuttleMinSalience"`
	ShuttleMaxPending     int           `yaml:"shuttleMaxPending"`
	ShuttlePreloadCount   int           `yaml:"shuttlePreloadCount"`
	ShuttlePreloadEvery   time.Duration `yaml:"shuttlePreloadEvery"`
	ShuttleDedup          bool          `yaml:"shuttleDedup"`
	ShuttleDedupThreshold float64       `yaml:"shuttleDedupThreshold"`
	// Sessions
	SessionIdleTTL time.Duration `yaml:"sessionIdleTtl"`
}

// Load builds the config from the environment, optionally layered on top of
// a YAML file named by MEMORY_CONFIG_FILE. Environment values win.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("MEMORY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Port = envInt("PORT", cfg.Port)
	cfg.DBPath = envStr("MEMORY_DB_PATH", cfg.DBPath)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.APIKey = envStr("MEMORY_API_KEY", cfg.APIKey)
	cfg.EmbedderBaseURL = envStr("EMBEDDER_BASE_URL", cfg.EmbedderBaseURL)
	cfg.EmbeddingModel = envStr("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.EmbeddingDim = envInt("EMBEDDING_DIM", cfg.EmbeddingDim)
	cfg.LTMBaseURL = envStr("LTM_BASE_URL", cfg.LTMBaseURL)
	cfg.LTMAPIKey = envStr("LTM_API_KEY", cfg.LTMAPIKey)
	cfg.LTMMaxRetries = envInt("LTM_MAX_RETRIES", cfg.LTMMaxRetries)
	cfg.LTMRetryDelay = envDuration("LTM_RETRY_DELAY", cfg.LTMRetryDelay)
	cfg.LTMTimeout = envDuration("LTM_TIMEOUT", cfg.LTMTimeout)
	cfg.STMMaxPerUser = envInt("STM_MAX_PER_USER", cfg.STMMaxPerUser)
	cfg.SearchThreshold = envFloat("SEARCH_THRESHOLD", cfg.SearchThreshold)
	cfg.DefaultMaxResults = envInt("DEFAULT_MAX_RESULTS", cfg.DefaultMaxResults)
	cfg.CacheMaxBytes = int64(envInt("CACHE_MAX_BYTES", int(cfg.CacheMaxBytes)))
	cfg.CachePerUser = envInt("CACHE_PER_USER", cfg.CachePerUser)
	cfg.CacheMaxItemBytes = envInt("CACHE_MAX_ITEM_BYTES", cfg.CacheMaxItemBytes)
	cfg.MirrorQueueSize = envInt("MIRROR_QUEUE_SIZE", cfg.MirrorQueueSize)
	cfg.MirrorWorkers = envInt("MIRROR_WORKERS", cfg.MirrorWorkers)
	cfg.ShuttleBatchSize = envInt("SHUTTLE_BATCH_SIZE", cfg.ShuttleBatchSize)
	cfg.ShuttleUploadInterval = envDuration("SHUTTLE_UPLOAD_INTERVAL", cfg.ShuttleUploadInterval)
	cfg.ShuttleMinSalience = envFloat("SHUTTLE_MIN_SALIENCE", cfg.ShuttleMinSalience)
	cfg.ShuttleMaxPending = envInt("SHUTTLE_MAX_PENDING", cfg.ShuttleMaxPending)
	cfg.ShuttlePreloadCount = envInt("SHUTTLE_PRELOAD_COUNT", cfg.ShuttlePreloadCount)
	cfg.ShuttlePreloadEvery = envDuration("SHUTTLE_PRELOAD_EVERY", cfg.ShuttlePreloadEvery)
	cfg.ShuttleDedup = envBool("SHUTTLE_DEDUP", cfg.ShuttleDedup)
	cfg.ShuttleDedupThreshold = envFloat("SHUTTLE_DEDUP_THRESHOLD", cfg.ShuttleDedupThreshold)
	cfg.SessionIdleTTL = envDuration("SESSION_IDLE_TTL", cfg.SessionIdleTTL)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:                  8742,
		DBPath:                "./data/jeanmemory.db",
		LogLevel:              "info",
		EmbedderBaseURL:       "",
		EmbeddingModel:        "nomic-embed-text",
		EmbeddingDim:          384,
		LTMMaxRetries:         3,
		LTMRetryDelay:         time.Second,
		LTMTimeout:            30 * time.Second,
		STMMaxPerUser:         1000,
		SearchThreshold:       0.2,
		DefaultMaxResults:     10,
		CacheMaxBytes:         16 << 20,
		CachePerUser:          50,
		CacheMaxItemBytes:     10 * 1024,
		MirrorQueueSize:       256,
		MirrorWorkers:         2,
		ShuttleBatchSize:      10,
		ShuttleUploadInterval: 60 * time.Second,
		ShuttleMinSalience:    0.3,
		ShuttleMaxPending:     100,
		ShuttlePreloadCount:   20,
		ShuttlePreloadEvery:   time.Hour,
		ShuttleDedup:          true,
		ShuttleDedupThreshold: 0.95,
		SessionIdleTTL:        24 * time.Hour,
	}
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("MEMORY_DB_PATH must not be empty")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	if c.SearchThreshold < 0 || c.SearchThreshold > 1 {
		return fmt.Errorf("SEARCH_THRESHOLD must be in [0,1], got %f", c.SearchThreshold)
	}
	if c.ShuttleMinSalience < 0 || c.ShuttleMinSalience > 1 {
		return fmt.Errorf("SHUTTLE_MIN_SALIENCE must be in [0,1], got %f", c.ShuttleMinSalience)
	}
	if c.ShuttleBatchSize < 1 {
		return fmt.Errorf("SHUTTLE_BATCH_SIZE must be positive, got %d", c.ShuttleBatchSize)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
