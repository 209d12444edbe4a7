package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/pkg/services"
)

func envelope(t *testing.T, err error) (int, *ErrorResponse) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected echo.HTTPError, got %T", err)
	body, ok := he.Message.(*ErrorResponse)
	require.True(t, ok, "expected ErrorResponse envelope, got %T", he.Message)
	return he.Code, body
}

func TestMapServiceError(t *testing.T) {
	t.Run("validation error maps to 400", func(t *testing.T) {
		code, body := envelope(t, mapServiceError(services.NewValidationError("gate", "required")))
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body.Error, "gate")
		assert.Empty(t, body.Code)
	})

	t.Run("capacity error maps to 503 CAPACITY_LIMIT", func(t *testing.T) {
		code, body := envelope(t, mapServiceError(&services.CapacityError{Scope: "global"}))
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, CodeCapacityLimit, body.Code)
		assert.NotEmpty(t, body.Message)
	})

	t.Run("entitlement error maps to 402 FEATURE_NOT_AVAILABLE", func(t *testing.T) {
		code, body := envelope(t, mapServiceError(&services.EntitlementError{Feature: FeatureReplan}))
		assert.Equal(t, http.StatusPaymentRequired, code)
		assert.Equal(t, CodeFeatureNotAvailable, body.Code)
	})

	t.Run("confirm required maps to 409 with rebuild code", func(t *testing.T) {
		code, body := envelope(t, mapServiceError(&services.ConfirmRequiredError{Action: "benchmark rebuild"}))
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, CodeRebuildConfirmRequired, body.Code)
	})

	t.Run("stale pipeline maps to 409 STALE_PIPELINE", func(t *testing.T) {
		code, body := envelope(t, mapServiceError(services.ErrStalePipeline))
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, CodeStalePipeline, body.Code)
	})

	t.Run("gate mismatch maps to 400 and keeps the detail", func(t *testing.T) {
		err := mapServiceError(services.ErrGateMismatch)
		code, body := envelope(t, err)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body.Error, "gate name does not match")
	})

	t.Run("not running maps to 409", func(t *testing.T) {
		code, _ := envelope(t, mapServiceError(services.ErrNotRunning))
		assert.Equal(t, http.StatusConflict, code)
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		code, body := envelope(t, mapServiceError(services.ErrNotFound))
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "resource not found", body.Error)
	})

	t.Run("unexpected error maps to opaque 500", func(t *testing.T) {
		code, body := envelope(t, mapServiceError(errors.New("pq: connection refused")))
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "internal server error", body.Error)
		assert.NotContains(t, body.Error, "pq:", "internal detail must not leak")
	})
}

func TestErrorHandler_RendersEnvelope(t *testing.T) {
	e := echo.New()

	t.Run("ErrorResponse message", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		errorHandler(c, echo.NewHTTPError(http.StatusConflict, &ErrorResponse{
			Error: "pipeline is stale",
			Code:  CodeStalePipeline,
		}))

		assert.Equal(t, http.StatusConflict, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "pipeline is stale", body.Error)
		assert.Equal(t, CodeStalePipeline, body.Code)
	})

	t.Run("string message", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		errorHandler(c, echo.NewHTTPError(http.StatusNotFound, "no such route"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "no such route", body.Error)
	})

	t.Run("plain error becomes opaque 500", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		errorHandler(c, errors.New("sql: bad connection"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "internal server error", body.Error)
	})
}
