package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of application error.
type ErrorCode string

const (
	CodeBadRequest    ErrorCode = "BAD_REQUEST"
	CodeModelNotFound ErrorCode = "MODEL_NOT_FOUND"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeRateLimited   ErrorCode = "RATE_LIMITED"
	CodeCancelled     ErrorCode = "CANCELLED"
	CodeInternal      ErrorCode = "INTERNAL_ERROR"
	CodeUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error categories as they appear in metrics and error responses.
const (
	CategoryBadRequest  = "bad_request"
	CategoryRateLimited = "rate_limited"
	CategoryTimeout     = "timeout"
	CategoryCancelled   = "cancelled"
	CategoryUnavailable = "unavailable"
	CategoryInternal    = "internal"
)

// StatusClientClosedRequest is the non-standard 499 status for client-side
// cancellation.
const StatusClientClosedRequest = 499

// AppError is the application error carried across layer boundaries.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to its HTTP response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeModelNotFound:
		return http.StatusNotFound
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeCancelled:
		return StatusClientClosedRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Category maps the error code to its metrics/response category.
func (e *AppError) Category() string {
	switch e.Code {
	case CodeBadRequest:
		return CategoryBadRequest
	case CodeModelNotFound, CodeUnavailable:
		return CategoryUnavailable
	case CodeTimeout:
		return CategoryTimeout
	case CodeRateLimited:
		return CategoryRateLimited
	case CodeCancelled:
		return CategoryCancelled
	default:
		return CategoryInternal
	}
}

// Retryable reports whether a client may reasonably retry the request.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case CodeTimeout, CodeRateLimited, CodeUnavailable:
		return true
	default:
		return false
	}
}

// NewBadRequestError creates a validation error.
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
	}
}

// NewModelNotFoundError creates an unknown-model error.
func NewModelNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeModelNotFound,
		Message: message,
	}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: message,
	}
}

// NewRateLimitedError creates a rate-limit error.
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: message,
	}
}

// NewCancelledError creates a client-cancellation error.
func NewCancelledError(message string) *AppError {
	return &AppError{
		Code:    CodeCancelled,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// NewInternalErrorWithCause creates an internal error wrapping its cause.
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// NewUnavailableError creates a service-unavailable error.
func NewUnavailableError(message string) *AppError {
	return &AppError{
		Code:    CodeUnavailable,
		Message: message,
	}
}

// NewUnavailableErrorWithCause creates a service-unavailable error wrapping
// its cause.
func NewUnavailableErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeUnavailable,
		Message: message,
		Err:     cause,
	}
}

// From returns err as an *AppError, wrapping unknown errors as internal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// IsBadRequest reports whether err is a validation error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeBadRequest
	}
	return false
}

// IsModelNotFound reports whether err is an unknown-model error.
func IsModelNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeModelNotFound
	}
	return false
}

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeTimeout
	}
	return false
}

// IsRateLimited reports whether err is a rate-limit error.
func IsRateLimited(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeRateLimited
	}
	return false
}

// IsCancelled reports whether err is a client-cancellation error.
func IsCancelled(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeCancelled
	}
	return false
}

// IsUnavailable reports whether err is a service-unavailable error.
func IsUnavailable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeUnavailable
	}
	return false
}
