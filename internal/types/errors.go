package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidCron     ErrorCode = "validation_invalid_cron"
	ErrCodeValidationInvalidTimezone ErrorCode = "validation_invalid_timezone"
	ErrCodeValidationInvalidWindow   ErrorCode = "validation_invalid_flexible_window"
	ErrCodeValidationInvalidName     ErrorCode = "validation_invalid_name"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidSeverity ErrorCode = "validation_invalid_severity"
	ErrCodeUnsupportedTarget         ErrorCode = "validation_unsupported_target"

	// Not Found (404)
	ErrCodeNotFoundSchedule ErrorCode = "not_found_schedule"
	ErrCodeNotFoundEvent    ErrorCode = "not_found_event"

	// Conflict (409)
	ErrCodeConflictSchedule ErrorCode = "conflict_schedule_exists"

	// Timeout (408)
	ErrCodeTimeout ErrorCode = "timeout_external_call"

	// Upstream (502/503)
	ErrCodeUpstreamScheduler    ErrorCode = "upstream_scheduler_unavailable"
	ErrCodeUpstreamWorkflow     ErrorCode = "upstream_workflow_unavailable"
	ErrCodeUpstreamFunction     ErrorCode = "upstream_function_unavailable"
	ErrCodeUpstreamNotification ErrorCode = "upstream_notification_unavailable"
	ErrCodeUpstreamIdentity     ErrorCode = "upstream_identity_unavailable"
	ErrCodeUpstreamEventBus     ErrorCode = "upstream_event_bus_unavailable"
	ErrCodeCircuitOpen          ErrorCode = "circuit_open"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "timeout_"):
		return http.StatusRequestTimeout // 408
	case c == ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable // 503
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// Retryable reports whether an error with this code is worth re-attempting.
// Validation, not-found, and conflict failures are deterministic; upstream
// and timeout failures are transient.
func (c ErrorCode) Retryable() bool {
	s := string(c)
	return strings.HasPrefix(s, "upstream_") ||
		strings.HasPrefix(s, "timeout_") ||
		c == ErrCodeCircuitOpen
}

// AppError is the single tagged error type used throughout the platform.
// All domain errors are expressed as AppError to enable consistent error
// formatting, HTTP status mapping, retryability checks, and chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// Retryable reports whether the error is transient per its code.
func (e *AppError) Retryable() bool {
	return e.Code.Retryable()
}

// WithDetails returns a copy of the error with the provided details merged in.
// Useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
