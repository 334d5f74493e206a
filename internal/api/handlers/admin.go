package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"threatlens-lab/internal/domain/services"
	"threatlens-lab/pkg/logger"
)

// AdminHandler handles admin endpoints
type AdminHandler struct {
	rebuilder *services.Rebuilder
	logger    *logger.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(rebuilder *services.Rebuilder, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		rebuilder: rebuilder,
		logger:    log.WithComponent("admin"),
	}
}

// StartRebuild handles POST /api/v1/admin/rebuild. window_days limits
// the recompute window; 0 or absent uses the association lookback.
func (h *AdminHandler) StartRebuild(w http.ResponseWriter, r *http.Request) {
	windowDays := 0
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "window_days must be a non-negative integer")
			return
		}
		windowDays = n
	}

	job, err := h.rebuilder.Start(r.Context(), windowDays)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to start rebuild")
		writeError(w, http.StatusInternalServerError, "failed to start rebuild")
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// RebuildStatus handles GET /api/v1/admin/rebuild/{jobID}
func (h *AdminHandler) RebuildStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.rebuilder.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "rebuild job not found")
			return
		}
		h.logger.Error().Err(err).Msg("failed to load rebuild job")
		writeError(w, http.StatusInternalServerError, "failed to load rebuild job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ResumeRebuild handles POST /api/v1/admin/rebuild/{jobID}/resume.
// Documents already checkpointed by the interrupted run are skipped.
func (h *AdminHandler) ResumeRebuild(w http.ResponseWriter, r *http.Request) {
	job, err := h.rebuilder.Resume(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "rebuild job not found")
			return
		}
		h.logger.Error().Err(err).Msg("failed to resume rebuild job")
		writeError(w, http.StatusInternalServerError, "failed to resume rebuild job")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
