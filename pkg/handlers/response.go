package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/logging"
)

// ApiResponse is the envelope for successful JSON responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StatusForError maps a service error onto an HTTP status and error code.
// Unclassified errors are 500 with fallbackCode so callers may retry.
func StatusForError(err error, fallbackCode string) (int, string) {
	var configErr *apperrors.ConfigurationError
	switch {
	case errors.As(err, &configErr):
		return http.StatusServiceUnavailable, "not_configured"
	case apperrors.IsClientError(err):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, fallbackCode
}

// writeServiceError writes err with the status StatusForError chooses.
// Server-side messages are sanitized before leaving the process.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallbackCode string) {
	status, code := StatusForError(err, fallbackCode)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("code", code), zap.Error(err))
		message = logging.SanitizeError(err)
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

func writeOK(w http.ResponseWriter, logger *zap.Logger, data any) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}
