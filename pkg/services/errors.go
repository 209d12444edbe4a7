package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotRunning is returned when an operation requires a running pipeline
	ErrNotRunning = errors.New("pipeline is not running")

	// ErrStalePipeline is returned when a gated session has seen no activity
	// within the staleness threshold; clients must restart
	ErrStalePipeline = errors.New("pipeline is stale")

	// ErrGateMismatch is returned when a gate response names a gate other
	// than the pending one
	ErrGateMismatch = errors.New("gate name does not match pending gate")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CapacityError is an admission denial identifying which limit was hit.
// Scope is "global" or "user".
type CapacityError struct {
	Scope string
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity limit reached (%s limit: %d)", e.Scope, e.Limit)
}

// EntitlementError is returned when a paywalled feature is requested by a
// user whose plan does not include it.
type EntitlementError struct {
	Feature string
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("feature not available on current plan: %s", e.Feature)
}

// ConfirmRequiredError is returned when a destructive rebuild needs an
// explicit confirmation flag before proceeding.
type ConfirmRequiredError struct {
	Action string
}

func (e *ConfirmRequiredError) Error() string {
	return fmt.Sprintf("confirmation required for %s", e.Action)
}
