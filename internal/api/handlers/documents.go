package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"threatlens-lab/internal/infrastructure/database/repository"
	"threatlens-lab/pkg/logger"
)

// DocumentsHandler serves per-document correlation results
type DocumentsHandler struct {
	repos  *repository.Repositories
	logger *logger.Logger
}

// NewDocumentsHandler creates a new DocumentsHandler
func NewDocumentsHandler(repos *repository.Repositories, log *logger.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		repos:  repos,
		logger: log.WithComponent("documents"),
	}
}

// ListRelationships handles GET /api/v1/documents/{documentID}/relationships.
// min_score filters below the stored retention threshold; results are
// ordered by composite score descending.
func (h *DocumentsHandler) ListRelationships(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	minScore := 0.0
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		minScore, err = strconv.ParseFloat(raw, 64)
		if err != nil || minScore < 0 || minScore > 1 {
			writeError(w, http.StatusBadRequest, "min_score must be a number in [0,1]")
			return
		}
	}

	rels, err := h.repos.Relationships.ListForSource(r.Context(), documentID, minScore)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID.String()).Msg("failed to list relationships")
		writeError(w, http.StatusInternalServerError, "failed to list relationships")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  rels,
		"total": len(rels),
	})
}

// GetPriority handles GET /api/v1/documents/{documentID}/priority
func (h *DocumentsHandler) GetPriority(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	score, err := h.repos.Priorities.Get(r.Context(), documentID)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID.String()).Msg("failed to load priority")
		writeError(w, http.StatusInternalServerError, "failed to load priority")
		return
	}
	if score == nil {
		writeError(w, http.StatusNotFound, "document has no priority score")
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// ListCampaigns handles GET /api/v1/documents/{documentID}/campaigns
func (h *DocumentsHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	campaigns, err := h.repos.Campaigns.ForDocument(r.Context(), documentID)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID.String()).Msg("failed to list document campaigns")
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  campaigns,
		"total": len(campaigns),
	})
}
