package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/auth"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/services"
)

// ConceptVersionsResponse lists every revision of a concept, oldest first.
type ConceptVersionsResponse struct {
	ConceptID string               `json:"concept_id"`
	Kind      models.FileType      `json:"kind"`
	Latest    *models.VersionRow   `json:"latest,omitempty"`
	Versions  []*models.VersionRow `json:"versions"`
}

// ConceptHandler exposes the version history of concepts.
type ConceptHandler struct {
	versions services.VersionService
	logger   *zap.Logger
}

// NewConceptHandler creates a new concept handler.
func NewConceptHandler(versions services.VersionService, logger *zap.Logger) *ConceptHandler {
	return &ConceptHandler{
		versions: versions,
		logger:   logger.Named("concept-handler"),
	}
}

// RegisterRoutes registers the concept handler's routes on the given mux.
func (h *ConceptHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/concepts/{conceptId}/versions", authMiddleware.RequireAuth(h.ListVersions))
}

// ListVersions handles GET /api/concepts/{conceptId}/versions?kind=
// kind defaults to source_dataset.
func (h *ConceptHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	conceptID, ok := ParseConceptID(w, r, h.logger)
	if !ok {
		return
	}

	kind := models.FileType(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = models.FileTypeSourceDataset
	}
	if !kind.HasConcept() {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_kind", "kind must be source_dataset or integrated_object"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	versions, err := h.versions.ListVersions(r.Context(), conceptID, kind)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_versions_failed")
		return
	}

	resp := ConceptVersionsResponse{
		ConceptID: conceptID.String(),
		Kind:      kind,
		Versions:  versions,
	}
	for _, v := range versions {
		if v.IsLatest {
			resp.Latest = v
		}
	}
	writeOK(w, h.logger, resp)
}
