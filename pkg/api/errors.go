package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/resumeforge/resumeforge/pkg/services"
)

// Error codes clients are expected to branch on.
const (
	CodeCapacityLimit          = "CAPACITY_LIMIT"
	CodeStalePipeline          = "STALE_PIPELINE"
	CodeFeatureNotAvailable    = "FEATURE_NOT_AVAILABLE"
	CodeRebuildConfirmRequired = "BENCHMARK_REBUILD_CONFIRM_REQUIRED"
)

// ErrorResponse is the error envelope on every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: validErr.Error()})
	}
	var capErr *services.CapacityError
	if errors.As(err, &capErr) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, &ErrorResponse{
			Error:   capErr.Error(),
			Code:    CodeCapacityLimit,
			Message: "All pipeline slots are busy. Please retry shortly.",
		})
	}
	var entErr *services.EntitlementError
	if errors.As(err, &entErr) {
		return echo.NewHTTPError(http.StatusPaymentRequired, &ErrorResponse{
			Error: entErr.Error(),
			Code:  CodeFeatureNotAvailable,
		})
	}
	var confirmErr *services.ConfirmRequiredError
	if errors.As(err, &confirmErr) {
		return echo.NewHTTPError(http.StatusConflict, &ErrorResponse{
			Error:   confirmErr.Error(),
			Code:    CodeRebuildConfirmRequired,
			Message: "Section writing has started; resend with confirm_rebuild=true to rebuild.",
		})
	}
	if errors.Is(err, services.ErrStalePipeline) {
		return echo.NewHTTPError(http.StatusConflict, &ErrorResponse{
			Error:   "pipeline is stale",
			Code:    CodeStalePipeline,
			Message: "The pipeline has been idle too long. Please restart it.",
		})
	}
	if errors.Is(err, services.ErrGateMismatch) {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
	}
	if errors.Is(err, services.ErrNotRunning) {
		return echo.NewHTTPError(http.StatusConflict, &ErrorResponse{Error: "pipeline is not running"})
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, &ErrorResponse{Error: "resource not found"})
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, &ErrorResponse{Error: "resource already exists"})
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, &ErrorResponse{Error: "internal server error"})
}

// errorHandler renders every error through the envelope. Handlers return
// *echo.HTTPError (directly or via mapServiceError); anything else is a 500.
func errorHandler(c *echo.Context, err error) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		slog.Error("Unhandled error", "error", err)
		he = echo.NewHTTPError(http.StatusInternalServerError, &ErrorResponse{Error: "internal server error"})
	}

	var body *ErrorResponse
	switch msg := he.Message.(type) {
	case *ErrorResponse:
		body = msg
	case string:
		body = &ErrorResponse{Error: msg}
	default:
		body = &ErrorResponse{Error: http.StatusText(he.Code)}
	}

	if jerr := c.JSON(he.Code, body); jerr != nil {
		slog.Error("Failed to write error response", "error", jerr)
	}
}
