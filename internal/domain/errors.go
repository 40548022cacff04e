package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pipeline and storage errors. Callers classify with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamProtocol    = errors.New("upstream protocol error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrValidationFailed    = errors.New("validation failed")

	// ErrInvalidUpstreamResponse is returned by the record builder when the
	// classifier result lacks ok, a label or a numeric confidence.
	ErrInvalidUpstreamResponse = fmt.Errorf("%w: invalid upstream response", ErrUpstreamProtocol)
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeUpstreamProtocol    = "UPSTREAM_PROTOCOL_ERROR"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeRateLimit           = "RATE_LIMIT_EXCEEDED"
	CodeAuthentication      = "AUTHENTICATION_ERROR"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeInternalServer      = "INTERNAL_SERVER_ERROR"
	CodeValidation          = "VALIDATION_ERROR"
)

// ValidationError represents a single field-level validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message string, details any, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// RecordValidationError collects every field failure of an assembled record.
type RecordValidationError struct {
	Errors []*ValidationError
}

// Error implements the error interface
func (e *RecordValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(e.Messages(), "; "))
}

// Unwrap lets errors.Is match ErrValidationFailed.
func (e *RecordValidationError) Unwrap() error {
	return ErrValidationFailed
}

// Messages returns one "field: message" string per failure.
func (e *RecordValidationError) Messages() []string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", ve.Field, ve.Message))
	}
	return msgs
}
