package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"threatlens-lab/internal/domain/services"
	"threatlens-lab/pkg/logger"
)

// IngestHandler runs the pre-persist duplicate gate
type IngestHandler struct {
	detector *services.DuplicateDetector
	logger   *logger.Logger
}

// NewIngestHandler creates a new IngestHandler
func NewIngestHandler(detector *services.DuplicateDetector, log *logger.Logger) *IngestHandler {
	return &IngestHandler{
		detector: detector,
		logger:   log.WithComponent("ingest"),
	}
}

// DuplicateCheckRequest is the candidate document submitted for the
// duplicate gate
type DuplicateCheckRequest struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	SourceRef   string    `json:"source_ref"`
	PublishedAt time.Time `json:"published_at"`
}

// CheckDuplicate handles POST /api/v1/ingest/check. The detector fails
// open, so this endpoint never rejects a candidate on backend errors.
func (h *IngestHandler) CheckDuplicate(w http.ResponseWriter, r *http.Request) {
	var req DuplicateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.PublishedAt.IsZero() {
		req.PublishedAt = time.Now().UTC()
	}

	check := h.detector.Check(r.Context(), req.Title, req.Content, req.SourceRef, req.PublishedAt)
	writeJSON(w, http.StatusOK, check)
}
