package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseFileID extracts and validates the file ID from the request path.
// Expects path parameter: fileId
func ParseFileID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "fileId", "invalid_file_id", "Invalid file ID format", logger)
}

// ParseConceptID extracts and validates the concept ID from the request path.
// Expects path parameter: conceptId
func ParseConceptID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "conceptId", "invalid_concept_id", "Invalid concept ID format", logger)
}

// ParseAtlasID extracts and validates the atlas ID from the request path.
// Expects path parameter: atlasId
func ParseAtlasID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "atlasId", "invalid_atlas_id", "Invalid atlas ID format", logger)
}

// parseUUID writes a 400 response and returns false when the path value is
// not a UUID.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
