package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardpoint/internal/types"
)

func TestJSONWritesBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/schedules", nil)

	JSON(w, r, http.StatusCreated, map[string]string{"scheduleId": "sched-9"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"scheduleId":"sched-9"}`, w.Body.String())
}

func TestErrorAppError(t *testing.T) {
	w := httptest.NewRecorder()
	ctx := types.WithCorrelationID(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "corr-1")
	r := httptest.NewRequest(http.MethodGet, "/v1/schedules/missing", nil).WithContext(ctx)

	Error(w, r, types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, string(types.ErrCodeNotFoundSchedule), resp.Error.Code)
	assert.Equal(t, "schedule not found", resp.Error.Message)
	assert.Equal(t, "corr-1", resp.Error.CorrelationID)
	assert.NotEmpty(t, resp.Error.Timestamp)
}

func TestErrorGenericErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(w, r, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"x"}`, false},
		{"empty body", ``, true},
		{"malformed", `{name}`, true},
		{"unknown field", `{"name":"x","extra":1}`, true},
		{"multiple values", `{"name":"x"}{"name":"y"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst payload
			err := DecodeJSON(w, r, &dst)
			if tt.wantErr {
				var appErr *types.AppError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, errCodeValidationInvalidJSON, appErr.Code)
				assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus())
			} else {
				require.NoError(t, err)
				assert.Equal(t, "x", dst.Name)
			}
		})
	}
}
