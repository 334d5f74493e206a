package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/internal/infrastructure/database/repository"
	"threatlens-lab/pkg/logger"
)

// CampaignsHandler handles campaign endpoints
type CampaignsHandler struct {
	repos  *repository.Repositories
	logger *logger.Logger
}

// NewCampaignsHandler creates a new CampaignsHandler
func NewCampaignsHandler(repos *repository.Repositories, log *logger.Logger) *CampaignsHandler {
	return &CampaignsHandler{
		repos:  repos,
		logger: log.WithComponent("campaigns"),
	}
}

// List handles GET /api/v1/campaigns with optional state and
// min_entities filters
func (h *CampaignsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.CampaignFilter{}

	if raw := r.URL.Query().Get("state"); raw != "" {
		state, ok := models.ParseCampaignState(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "state must be candidate, verified or dismissed")
			return
		}
		filter.State = state
	}
	if raw := r.URL.Query().Get("min_entities"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "min_entities must be a non-negative integer")
			return
		}
		filter.MinEntities = n
	}

	campaigns, err := h.repos.Campaigns.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list campaigns")
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  campaigns,
		"total": len(campaigns),
	})
}

// Get handles GET /api/v1/campaigns/{id}
func (h *CampaignsHandler) Get(w http.ResponseWriter, r *http.Request) {
	campaign, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// Verify handles POST /api/v1/campaigns/{id}/verify
func (h *CampaignsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.CampaignStateVerified)
}

// Dismiss handles POST /api/v1/campaigns/{id}/dismiss
func (h *CampaignsHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.CampaignStateDismissed)
}

func (h *CampaignsHandler) transition(w http.ResponseWriter, r *http.Request, target models.CampaignState) {
	campaign, ok := h.load(w, r)
	if !ok {
		return
	}

	if err := campaign.Transition(target); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			writeError(w, http.StatusConflict,
				"campaign in state "+string(campaign.State)+" cannot move to "+string(target))
			return
		}
		h.logger.Error().Err(err).Str("campaign_id", campaign.ID.String()).Msg("transition failed")
		writeError(w, http.StatusInternalServerError, "transition failed")
		return
	}

	campaign.UpdatedAt = time.Now().UTC()
	if err := h.repos.Campaigns.Save(r.Context(), campaign); err != nil {
		h.logger.Error().Err(err).Str("campaign_id", campaign.ID.String()).Msg("failed to save campaign")
		writeError(w, http.StatusInternalServerError, "failed to save campaign")
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

func (h *CampaignsHandler) load(w http.ResponseWriter, r *http.Request) (*models.Campaign, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return nil, false
	}

	campaign, err := h.repos.Campaigns.Get(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("campaign_id", id.String()).Msg("failed to load campaign")
		writeError(w, http.StatusInternalServerError, "failed to load campaign")
		return nil, false
	}
	if campaign == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return nil, false
	}
	return campaign, true
}
