package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jeanmemory/jean-memory-go/internal/api"
	"github.com/jeanmemory/jean-memory-go/internal/config"
	"github.com/jeanmemory/jean-memory-go/internal/embedding"
	"github.com/jeanmemory/jean-memory-go/internal/jeanmemory"
	"github.com/jeanmemory/jean-memory-go/internal/models"
	"github.com/jeanmemory/jean-memory-go/internal/store"
)

func main() {
	// Local overrides; absence is fine in production.
	_ = godotenv.Load()

	// Logger
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// SQLite
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	embCacheStore := store.NewEmbeddingCacheStore(db)
	sessStore := store.NewSessionStore(db)

	// Embedder: remote when configured, deterministic local fallback
	// otherwise. Remote embeddings go through the SQLite cache.
	var (
		embedder       embedding.Embedder
		remoteEmbedder *embedding.Client
	)
	if cfg.EmbedderBaseURL != "" {
		remoteEmbedder = embedding.NewClient(cfg.EmbedderBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
		embedder = embedding.NewCachedEmbedder(remoteEmbedder, embCacheStore, cfg.EmbeddingModel, logger)
	} else {
		logger.Warn("no embedder configured, using local token-hash embeddings")
		embedder = embedding.NewLocalEmbedder(cfg.EmbeddingDim)
	}

	// Memory service
	shuttleCfg := models.DefaultShuttleConfig()
	shuttleCfg.BatchSize = cfg.ShuttleBatchSize
	shuttleCfg.UploadInterval = cfg.ShuttleUploadInterval
	shuttleCfg.MinSalience = cfg.ShuttleMinSalience
	shuttleCfg.MaxPendingPerUser = cfg.ShuttleMaxPending
	shuttleCfg.PreloadCount = cfg.ShuttlePreloadCount
	shuttleCfg.PreloadInterval = cfg.ShuttlePreloadEvery
	shuttleCfg.EnableDedup = cfg.ShuttleDedup
	shuttleCfg.DedupThreshold = cfg.ShuttleDedupThreshold

	svc := jeanmemory.New(jeanmemory.Options{
		Embedder:          embedder,
		LTMBaseURL:        cfg.LTMBaseURL,
		LTMAPIKey:         cfg.LTMAPIKey,
		LTMMaxRetries:     cfg.LTMMaxRetries,
		LTMRetryDelay:     cfg.LTMRetryDelay,
		LTMTimeout:        cfg.LTMTimeout,
		STMMaxPerUser:     cfg.STMMaxPerUser,
		SearchThreshold:   cfg.SearchThreshold,
		CacheMaxBytes:     cfg.CacheMaxBytes,
		CachePerUser:      cfg.CachePerUser,
		CacheMaxItemBytes: cfg.CacheMaxItemBytes,
		MirrorQueueSize:   cfg.MirrorQueueSize,
		MirrorWorkers:     cfg.MirrorWorkers,
		Shuttle:           shuttleCfg,
		SessionStore:      sessStore,
		SessionIdleTTL:    cfg.SessionIdleTTL,
		Logger:            logger,
	})

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := svc.Initialize(initCtx); err != nil {
		initCancel()
		logger.Error("failed to initialize memory service", "error", err)
		os.Exit(1)
	}
	initCancel()
	defer svc.Close()

	// Periodic session cleanup
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if sessions := svc.Sessions(); sessions != nil {
				if _, err := sessions.CleanupExpired(); err != nil {
					logger.Warn("session cleanup failed", "error", err)
				}
			}
		}
	}()

	// Router
	router := api.NewRouter(db, svc, remoteEmbedder, cfg.APIKey, logger)

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("memory server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
