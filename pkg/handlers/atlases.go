package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/auth"
	"github.com/hca-atlas-tracker/tracker/pkg/services"
)

// AtlasHandler exposes atlas ingestion task counts.
type AtlasHandler struct {
	aggregates services.AtlasAggregateService
	logger     *zap.Logger
}

// NewAtlasHandler creates a new atlas handler.
func NewAtlasHandler(aggregates services.AtlasAggregateService, logger *zap.Logger) *AtlasHandler {
	return &AtlasHandler{
		aggregates: aggregates,
		logger:     logger.Named("atlas-handler"),
	}
}

// RegisterRoutes registers the atlas handler's routes on the given mux.
func (h *AtlasHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	requireAdmin := authMiddleware.RequireRole(auth.RoleContentAdmin)

	mux.HandleFunc("GET /api/atlases/{atlasId}/task-counts", authMiddleware.RequireAuth(h.GetTaskCounts))
	mux.HandleFunc("POST /api/atlases/{atlasId}/task-counts/recompute", requireAdmin(h.RecomputeTaskCounts))
	mux.HandleFunc("POST /api/atlases/task-counts/recompute", requireAdmin(h.RecomputeAll))
}

// GetTaskCounts handles GET /api/atlases/{atlasId}/task-counts
func (h *AtlasHandler) GetTaskCounts(w http.ResponseWriter, r *http.Request) {
	atlasID, ok := ParseAtlasID(w, r, h.logger)
	if !ok {
		return
	}

	counts, err := h.aggregates.GetAtlasCounts(r.Context(), atlasID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_task_counts_failed")
		return
	}
	writeOK(w, h.logger, counts)
}

// RecomputeTaskCounts handles POST /api/atlases/{atlasId}/task-counts/recompute
func (h *AtlasHandler) RecomputeTaskCounts(w http.ResponseWriter, r *http.Request) {
	atlasID, ok := ParseAtlasID(w, r, h.logger)
	if !ok {
		return
	}

	counts, err := h.aggregates.RecomputeAtlasCounts(r.Context(), atlasID)
	if err != nil {
		writeServiceError(w, h.logger, err, "recompute_failed")
		return
	}
	writeOK(w, h.logger, counts)
}

// RecomputeAll handles POST /api/atlases/task-counts/recompute
func (h *AtlasHandler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.aggregates.RecomputeAll(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "recompute_failed")
		return
	}
	writeOK(w, h.logger, map[string]int{"atlases": n})
}
