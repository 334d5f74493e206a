package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/internal/domain/services"
	"threatlens-lab/pkg/logger"
)

// ConfigHandler serves the runtime matching configuration
type ConfigHandler struct {
	config *services.ConfigService
	logger *logger.Logger
}

// NewConfigHandler creates a new ConfigHandler
func NewConfigHandler(config *services.ConfigService, log *logger.Logger) *ConfigHandler {
	return &ConfigHandler{
		config: config,
		logger: log.WithComponent("config"),
	}
}

// Get handles GET /api/v1/config
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.config.Current(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load config")
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Update handles PUT /api/v1/config. The whole configuration is
// replaced atomically; invalid documents leave the stored one intact.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	var cfg models.MatchingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config document: "+err.Error())
		return
	}

	if err := h.config.Update(r.Context(), &cfg); err != nil {
		if errors.Is(err, models.ErrWeightsNotNormalized) ||
			errors.Is(err, models.ErrInvalidThreshold) ||
			errors.Is(err, models.ErrInvalidWindow) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("failed to update config")
		writeError(w, http.StatusInternalServerError, "failed to update config")
		return
	}

	writeJSON(w, http.StatusOK, &cfg)
}
