package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/internal/domain/services"
	"threatlens-lab/internal/infrastructure/database/repository"
	"threatlens-lab/pkg/logger"
)

const coOccurringLimit = 20

// EntitiesHandler serves canonical entity lookups
type EntitiesHandler struct {
	canonicalizer *services.Canonicalizer
	repos         *repository.Repositories
	logger        *logger.Logger
}

// NewEntitiesHandler creates a new EntitiesHandler
func NewEntitiesHandler(canonicalizer *services.Canonicalizer, repos *repository.Repositories, log *logger.Logger) *EntitiesHandler {
	return &EntitiesHandler{
		canonicalizer: canonicalizer,
		repos:         repos,
		logger:        log.WithComponent("entities"),
	}
}

// Get handles GET /api/v1/entities/{kind}/{value}. The value segment
// is URL-escaped and normalized before lookup, so the raw form a
// report uses (APT28, www.Evil-C2.net) resolves to its canonical
// record.
func (h *EntitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, ok := models.ParseEntityKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be indicator, technique or actor")
		return
	}

	value, err := url.PathUnescape(chi.URLParam(r, "value"))
	if err != nil || value == "" {
		writeError(w, http.StatusBadRequest, "invalid entity value")
		return
	}

	entity, err := h.canonicalizer.Lookup(r.Context(), kind, value)
	if err != nil {
		if errors.Is(err, services.ErrInvalidEntity) {
			writeError(w, http.StatusBadRequest, "value does not normalize for kind")
			return
		}
		h.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to load entity")
		writeError(w, http.StatusInternalServerError, "failed to load entity")
		return
	}
	if entity == nil {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}

	coOccurring, err := h.repos.Entities.CoOccurring(r.Context(), entity.ID, coOccurringLimit)
	if err != nil {
		h.logger.Warn().Err(err).Str("entity_id", entity.ID.String()).Msg("failed to load co-occurring entities")
		coOccurring = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity":       entity,
		"co_occurring": coOccurring,
	})
}
