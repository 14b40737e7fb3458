package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func requestWithID(method, path string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	return r.WithContext(context.WithValue(r.Context(), middleware.RequestIDKey, "req-42"))
}

type consumeBody struct {
	FeatureID uint32 `validate:"required"`
}

func TestErrorHandler_HandleError(t *testing.T) {
	fieldErr := validator.New().Struct(consumeBody{})
	require.Error(t, fieldErr)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantCode   string
	}{
		{
			name:       "deadline exceeded",
			err:        fmt.Errorf("lookup: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantType:   TypeTimeout,
		},
		{
			name:       "api error",
			err:        ErrNoLicense,
			wantStatus: http.StatusServiceUnavailable,
			wantType:   TypeServiceDown,
			wantCode:   "NO_LICENSE",
		},
		{
			name:       "status error",
			err:        fmt.Errorf("consume: %w", New(CodeFeatureNotFound, "find feature")),
			wantStatus: http.StatusNotFound,
			wantType:   "/errors/not-found/feature-not-found",
			wantCode:   "FEATURE_NOT_FOUND",
		},
		{
			name:       "update conflict",
			err:        ErrUpdateCountMismatch,
			wantStatus: http.StatusConflict,
			wantType:   "/errors/license/update-count-mismatch",
			wantCode:   "UPDATE_COUNT_MISMATCH",
		},
		{
			name:       "buffer too small",
			err:        &BufferTooSmallError{Required: 64},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   "/errors/resource/buffer-too-small",
			wantCode:   "BUFFER_TOO_SMALL",
		},
		{
			name:       "validation errors",
			err:        fieldErr,
			wantStatus: http.StatusBadRequest,
			wantType:   TypeValidation,
		},
		{
			name:       "unknown error",
			err:        fmt.Errorf("something broke"),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := newTestLogger()
			h := NewErrorHandler(logger, false)
			rec := httptest.NewRecorder()

			h.HandleError(rec, requestWithID(http.MethodGet, "/api/v1/license"), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, float64(tt.wantStatus), body["status"])
			assert.Equal(t, "/api/v1/license", body["instance"])
			assert.Equal(t, "req-42", body["trace_id"])
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error_code"])
			}
			assert.NotContains(t, body, "stack")
			assert.Contains(t, logs.String(), "request failed")
		})
	}
}

func TestErrorHandler_NilError(t *testing.T) {
	logger, logs := newTestLogger()
	rec := httptest.NewRecorder()
	NewErrorHandler(logger, true).HandleError(rec, requestWithID(http.MethodGet, "/"), nil)
	assert.Zero(t, rec.Body.Len())
	assert.Zero(t, logs.Len())
}

func TestErrorHandler_ValidationDetails(t *testing.T) {
	logger, _ := newTestLogger()
	rec := httptest.NewRecorder()
	err := validator.New().Struct(consumeBody{})

	NewErrorHandler(logger, false).HandleError(rec, requestWithID(http.MethodPost, "/api/v1/consume"), err)

	body := decodeProblem(t, rec)
	errs, ok := body["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "FeatureID", errs[0].(map[string]interface{})["field"])
}

func TestErrorHandler_StackOnServerErrors(t *testing.T) {
	logger, _ := newTestLogger()
	h := NewErrorHandler(logger, true)

	rec := httptest.NewRecorder()
	h.HandleError(rec, requestWithID(http.MethodGet, "/"), fmt.Errorf("boom"))
	assert.Contains(t, decodeProblem(t, rec), "stack")

	rec = httptest.NewRecorder()
	h.HandleError(rec, requestWithID(http.MethodGet, "/"), ErrFeatureNotFound)
	assert.NotContains(t, decodeProblem(t, rec), "stack", "client errors carry no stack")
}

func TestErrorHandler_HandlePanic(t *testing.T) {
	tests := []struct {
		name         string
		includeStack bool
	}{
		{"production", false},
		{"development", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := newTestLogger()
			rec := httptest.NewRecorder()
			NewErrorHandler(logger, tt.includeStack).HandlePanic(rec, requestWithID(http.MethodGet, "/x"), "nil map")

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, TypeInternal, body["type"])
			if tt.includeStack {
				assert.Equal(t, "nil map", body["panic"])
			} else {
				assert.NotContains(t, body, "panic")
			}
			assert.Contains(t, logs.String(), "panic recovered")
		})
	}
}

func TestErrorHandler_NotFoundAndMethod(t *testing.T) {
	logger, _ := newTestLogger()
	h := NewErrorHandler(logger, false)

	rec := httptest.NewRecorder()
	h.NotFound(rec, requestWithID(http.MethodGet, "/nope"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, rec)["type"])

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, requestWithID(http.MethodDelete, "/api/v1/license"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, decodeProblem(t, rec)["detail"], "DELETE")
}
