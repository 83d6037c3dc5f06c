package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/jeanmemory/jean-memory-go/internal/embedding"
	"github.com/jeanmemory/jean-memory-go/internal/jeanmemory"
	"github.com/jeanmemory/jean-memory-go/internal/store"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	svc *jeanmemory.Service,
	remoteEmbedder *embedding.Client,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db, remoteEmbedder, svc)
	memoryH := NewMemoryHandler(svc)
	sessionH := NewSessionHandler(svc)
	shuttleH := NewShuttleHandler(svc)
	statsH := NewStatsHandler(svc)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", memoryH.List)
			r.Post("/", memoryH.Add)
			r.Post("/search", memoryH.Search)
			r.Get("/{id}", memoryH.Get)
			r.Delete("/{id}", memoryH.Delete)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionH.List)
			r.Post("/", sessionH.Create)
			r.Get("/{id}", sessionH.Get)
			r.Patch("/{id}", sessionH.Update)
			r.Delete("/{id}", sessionH.Delete)
		})

		r.Route("/shuttle", func(r chi.Router) {
			r.Post("/sync", shuttleH.Sync)
			r.Post("/preload", shuttleH.Preload)
			r.Get("/stats", shuttleH.Stats)
		})

		r.Get("/stats", statsH.Stats)
	})

	return r
}
