package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeBusiness     ErrorType = "business"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeFetch        ErrorType = "fetch"
	ErrorTypeComparison   ErrorType = "comparison"
	ErrorTypeDelivery     ErrorType = "delivery"
	ErrorTypeJobExhausted ErrorType = "job_exhausted"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// NewFetchError records a source that was unreachable or returned a
// malformed payload. Recovered locally: the source is skipped for the
// cycle and retried on the next scheduled attempt.
func NewFetchError(sourceID, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeFetch,
		Code:       "FETCH_FAILED",
		Message:    message,
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"source_id": sourceID},
	}
}

// NewComparisonError records a corrupt or missing snapshot. The affected
// requirement is skipped; the rest of the source continues.
func NewComparisonError(requirementID, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeComparison,
		Code:       "COMPARISON_FAILED",
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
		Details:    map[string]interface{}{"requirement_id": requirementID},
	}
}

// NewDeliveryError records a channel transport failure for a single
// notification. Not retried within the same cycle.
func NewDeliveryError(channel, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeDelivery,
		Code:       "DELIVERY_FAILED",
		Message:    message,
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"channel": channel},
	}
}

// NewJobExhaustedError marks a job whose retry budget is spent. Fatal for
// the job's current cycle; the job resumes at its next scheduled time.
func NewJobExhaustedError(jobName string) *AppError {
	return &AppError{
		Type:       ErrorTypeJobExhausted,
		Code:       "JOB_RETRIES_EXHAUSTED",
		Message:    fmt.Sprintf("job %s exhausted its retries", jobName),
		Retryable:  false,
		StatusCode: 500,
		Details:    map[string]interface{}{"job_name": jobName},
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    message,
		Retryable:  true,
		StatusCode: 429,
	}
}

// Predefined common errors
var (
	ErrInvalidInput     = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrSourceNotFound   = NewNotFoundError("source")
	ErrJobNotFound      = NewNotFoundError("job")
	ErrReportNotFound   = NewNotFoundError("report")
	ErrSnapshotNotFound = NewNotFoundError("snapshot")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
