package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseIDs(t *testing.T) {
	parsers := []struct {
		name      string
		param     string
		errorCode string
		parse     func(http.ResponseWriter, *http.Request, *zap.Logger) (uuid.UUID, bool)
	}{
		{"file", "fileId", "invalid_file_id", ParseFileID},
		{"concept", "conceptId", "invalid_concept_id", ParseConceptID},
		{"atlas", "atlasId", "invalid_atlas_id", ParseAtlasID},
	}

	for _, p := range parsers {
		t.Run(p.name+" valid", func(t *testing.T) {
			want := uuid.New()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.SetPathValue(p.param, want.String())
			rec := httptest.NewRecorder()

			id, ok := p.parse(rec, req, zap.NewNop())

			assert.True(t, ok)
			assert.Equal(t, want, id)
			assert.Equal(t, 0, rec.Body.Len())
		})

		for _, value := range []string{"not-a-uuid", ""} {
			t.Run(p.name+" invalid "+value, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodGet, "/test", nil)
				req.SetPathValue(p.param, value)
				rec := httptest.NewRecorder()

				id, ok := p.parse(rec, req, zap.NewNop())

				assert.False(t, ok)
				assert.Equal(t, uuid.Nil, id)
				assert.Equal(t, http.StatusBadRequest, rec.Code)

				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, p.errorCode, body["error"])
			})
		}
	}
}
