package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"threatlens-lab/internal/domain/services"
	"threatlens-lab/pkg/logger"
)

// AnalysisHandler handles document analysis endpoints
type AnalysisHandler struct {
	analyzer *services.Analyzer
	logger   *logger.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler
func NewAnalysisHandler(analyzer *services.Analyzer, log *logger.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		analyzer: analyzer,
		logger:   log.WithComponent("analysis"),
	}
}

// Analyze handles POST /api/v1/analysis/{documentID}.
// The optional force query parameter re-runs extraction even when a
// completed run already covers the document.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	result, err := h.analyzer.Analyze(r.Context(), documentID, force)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, services.ErrAnalysisInFlight):
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusConflict, "analysis already in flight for this document")
		default:
			h.logger.Error().Err(err).Str("document_id", documentID.String()).Msg("analysis failed")
			writeError(w, http.StatusInternalServerError, "analysis failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}
