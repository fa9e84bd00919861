package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
)

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, ErrorResponse(w, http.StatusNotFound, "not_found", "file not found"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "file not found", body["message"])
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: map[string]int{"n": 1}}))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"n":1}}`, w.Body.String())
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"malformed key", &apperrors.MalformedKeyError{Key: "x", Reason: "bad"}, http.StatusBadRequest, "invalid_request"},
		{"invalid input", fmt.Errorf("%w: no bucket", apperrors.ErrInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"configuration", &apperrors.ConfigurationError{Variable: "BATCH_JOB_QUEUE"}, http.StatusServiceUnavailable, "not_configured"},
		{"not found", fmt.Errorf("file: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{"conflict", apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{"forbidden", apperrors.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"unclassified", errors.New("connection reset"), http.StatusInternalServerError, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := StatusForError(tt.err, "fallback")
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestWriteServiceError_SanitizesServerErrors(t *testing.T) {
	w := httptest.NewRecorder()

	writeServiceError(w, zap.NewNop(), errors.New("dial postgres://tracker:hunter2@db:5432/tracker: refused"), "db_failed")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
	assert.Contains(t, w.Body.String(), "db_failed")
}
