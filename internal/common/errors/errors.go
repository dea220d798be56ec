// Package errors provides the standardized error taxonomy for the search core.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Caller errors: reported, never retried.
	ErrCodeInvalidQuery ErrorCode = "INVALID_QUERY"
	ErrCodeLeadNotFound ErrorCode = "LEAD_NOT_FOUND"

	// Defensive errors: should not occur with valid callers, surfaced as internal.
	ErrCodeInvalidCoordinate   ErrorCode = "INVALID_COORDINATE"
	ErrCodeInvalidMetricInput  ErrorCode = "INVALID_METRIC_INPUT"

	// Infrastructure errors.
	ErrCodeRepositoryUnavailable ErrorCode = "REPOSITORY_UNAVAILABLE"
	ErrCodeCacheUnavailable      ErrorCode = "CACHE_UNAVAILABLE"

	// Internal-only: lock contention degrades to duplicate local computation,
	// never to a caller-visible failure.
	ErrCodeLockUnavailable ErrorCode = "LOCK_UNAVAILABLE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// Error Constructors
// ==========================

// NewInvalidQueryError creates a non-retryable bad-input error.
func NewInvalidQueryError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidQuery,
		Message:   "Invalid search query",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLeadNotFoundError creates a non-retryable not-found error.
func NewLeadNotFoundError(businessID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLeadNotFound,
		Message:   "Business not found",
		Details:   fmt.Sprintf("businessId: %s", businessID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidCoordinateError creates a non-retryable coordinate range error.
func NewInvalidCoordinateError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidCoordinate,
		Message:   "Coordinate out of range",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidMetricInputError creates a non-retryable metric input error.
func NewInvalidMetricInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidMetricInput,
		Message:   "Non-finite input to conversion metric",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRepositoryUnavailableError creates a retryable repository error.
func NewRepositoryUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRepositoryUnavailable,
		Message:   "Lead repository unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheUnavailableError creates a retryable cache store error.
func NewCacheUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Cache store unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLockUnavailableError creates the internal lock-contention error.
func NewLockUnavailableError(key string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLockUnavailable,
		Message:   "Distributed lock held by another process",
		Details:   fmt.Sprintf("key: %s", key),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// HTTP Mapping
// ==========================

// HTTPStatus maps an error code to the transport status surfaced to callers.
// LOCK_UNAVAILABLE deliberately maps to 500: it must be resolved internally and
// reaching this table with it is a bug.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case ErrCodeLeadNotFound:
		return http.StatusNotFound
	case ErrCodeRepositoryUnavailable, ErrCodeCacheUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// Utility Functions
// ==========================

// AsStandardError unwraps err into a *StandardError if possible.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or empty if it is not a StandardError.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ""
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	stdErr, ok := AsStandardError(err)
	return ok && stdErr.Retryable
}
