package handlers

import (
	"encoding/json"
	"net/http"

	"threatlens-lab/internal/domain/services"
	"threatlens-lab/internal/infrastructure/cache"
	"threatlens-lab/internal/infrastructure/database/repository"
	"threatlens-lab/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health    *HealthHandler
	Analysis  *AnalysisHandler
	Documents *DocumentsHandler
	Campaigns *CampaignsHandler
	Entities  *EntitiesHandler
	Config    *ConfigHandler
	Ingest    *IngestHandler
	Admin     *AdminHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Analyzer      *services.Analyzer
	Detector      *services.DuplicateDetector
	Rebuilder     *services.Rebuilder
	Config        *services.ConfigService
	Canonicalizer *services.Canonicalizer
	Cache         *cache.RedisCache
	Logger        *logger.Logger
	Repos         *repository.Repositories
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Cache, deps.Repos, deps.Logger),
		Analysis:  NewAnalysisHandler(deps.Analyzer, deps.Logger),
		Documents: NewDocumentsHandler(deps.Repos, deps.Logger),
		Campaigns: NewCampaignsHandler(deps.Repos, deps.Logger),
		Entities:  NewEntitiesHandler(deps.Canonicalizer, deps.Repos, deps.Logger),
		Config:    NewConfigHandler(deps.Config, deps.Logger),
		Ingest:    NewIngestHandler(deps.Detector, deps.Logger),
		Admin:     NewAdminHandler(deps.Rebuilder, deps.Logger),
	}
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
