package api

import (
	"net/http"

	"github.com/jeanmemory/jean-memory-go/internal/embedding"
	"github.com/jeanmemory/jean-memory-go/internal/jeanmemory"
	"github.com/jeanmemory/jean-memory-go/internal/models"
	"github.com/jeanmemory/jean-memory-go/internal/store"
)

// HealthHandler probes the embedder, the long-term tier, and the local
// database. A nil remote embedder means a local one is in use; it has no
// endpoint to probe and always reports ok.
type HealthHandler struct {
	db     *store.DB
	remote *embedding.Client
	svc    *jeanmemory.Service
}

func NewHealthHandler(db *store.DB, remote *embedding.Client, svc *jeanmemory.Service) *HealthHandler {
	return &HealthHandler{db: db, remote: remote, svc: svc}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status: "ok",
	}

	if h.remote != nil {
		if err := h.remote.HealthCheck(r.Context()); err != nil {
			resp.Embedder = models.ServiceCheck{Status: "error", Message: err.Error()}
			resp.Status = "degraded"
		} else {
			resp.Embedder = models.ServiceCheck{Status: "ok"}
		}
	} else {
		resp.Embedder = models.ServiceCheck{Status: "ok", Message: "local embedder"}
	}

	if h.svc.LTMReady() {
		resp.LTM = models.ServiceCheck{Status: "ok"}
	} else {
		resp.LTM = models.ServiceCheck{Status: "degraded", Message: "long-term tier unavailable"}
	}

	if _, err := h.db.SessionCount(); err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
	}

	resp.STMCount = h.svc.STMCount()

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// StatsHandler serves aggregate tier and shuttle statistics.
type StatsHandler struct {
	svc *jeanmemory.Service
}

func NewStatsHandler(svc *jeanmemory.Service) *StatsHandler {
	return &StatsHandler{svc: svc}
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
