package api

import (
	"net/http"

	"github.com/jeanmemory/jean-memory-go/internal/jeanmemory"
)

type ShuttleHandler struct {
	svc *jeanmemory.Service
}

func NewShuttleHandler(svc *jeanmemory.Service) *ShuttleHandler {
	return &ShuttleHandler{svc: svc}
}

// Sync handles POST /shuttle/sync?user_id=...
func (h *ShuttleHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	result, err := h.svc.ForceSyncToLTM(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Error != "" {
		writeJSON(w, http.StatusServiceUnavailable, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Preload handles POST /shuttle/preload?user_id=...
func (h *ShuttleHandler) Preload(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	result, err := h.svc.PreloadHotMemories(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Error != "" {
		writeJSON(w, http.StatusServiceUnavailable, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Stats handles GET /shuttle/stats
func (h *ShuttleHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.ShuttleStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
