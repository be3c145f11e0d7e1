package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// === Error formatting ===

func TestAppError_Error(t *testing.T) {
	plain := NewBadRequestError("messages must not be empty")
	if got, want := plain.Error(), "[BAD_REQUEST] messages must not be empty"; got != want {
		t.Errorf("Error(): got %q, want %q", got, want)
	}

	wrapped := NewInternalErrorWithCause("engine request failed", errors.New("connection refused"))
	if got, want := wrapped.Error(), "[INTERNAL_ERROR] engine request failed: connection refused"; got != want {
		t.Errorf("Error() with cause: got %q, want %q", got, want)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewUnavailableErrorWithCause("engine not ready", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

// === HTTP status and category mapping ===

func TestAppError_HTTPStatusAndCategory(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		status   int
		category string
	}{
		{"bad request", NewBadRequestError("x"), http.StatusBadRequest, CategoryBadRequest},
		{"model not found", NewModelNotFoundError("x"), http.StatusNotFound, CategoryUnavailable},
		{"timeout", NewTimeoutError("x"), http.StatusRequestTimeout, CategoryTimeout},
		{"rate limited", NewRateLimitedError("x"), http.StatusTooManyRequests, CategoryRateLimited},
		{"cancelled", NewCancelledError("x"), StatusClientClosedRequest, CategoryCancelled},
		{"internal", NewInternalError("x"), http.StatusInternalServerError, CategoryInternal},
		{"unavailable", NewUnavailableError("x"), http.StatusServiceUnavailable, CategoryUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatus(); got != tt.status {
				t.Errorf("HTTPStatus(): got %d, want %d", got, tt.status)
			}
			if got := tt.err.Category(); got != tt.category {
				t.Errorf("Category(): got %s, want %s", got, tt.category)
			}
		})
	}
}

func TestAppError_Retryable(t *testing.T) {
	tests := []struct {
		err       *AppError
		retryable bool
	}{
		{NewBadRequestError("x"), false},
		{NewModelNotFoundError("x"), false},
		{NewTimeoutError("x"), true},
		{NewRateLimitedError("x"), true},
		{NewCancelledError("x"), false},
		{NewInternalError("x"), false},
		{NewUnavailableError("x"), true},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.retryable {
				t.Errorf("Retryable(): got %v, want %v", got, tt.retryable)
			}
		})
	}
}

// === From ===

func TestFrom(t *testing.T) {
	app := NewRateLimitedError("per-IP rate limit exceeded")
	if got := From(app); got != app {
		t.Error("From should return the original *AppError unchanged")
	}

	wrapped := fmt.Errorf("handler: %w", NewTimeoutError("first token deadline"))
	if got := From(wrapped); got.Code != CodeTimeout {
		t.Errorf("From(wrapped): got code %s, want %s", got.Code, CodeTimeout)
	}

	plain := errors.New("something broke")
	got := From(plain)
	if got.Code != CodeInternal {
		t.Errorf("From(plain): got code %s, want %s", got.Code, CodeInternal)
	}
	if !errors.Is(got, plain) {
		t.Error("From(plain) should wrap the original error")
	}
}

// === Predicates ===

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		pred func(error) bool
		err  error
		want bool
	}{
		{"IsBadRequest match", IsBadRequest, NewBadRequestError("x"), true},
		{"IsBadRequest mismatch", IsBadRequest, NewTimeoutError("x"), false},
		{"IsModelNotFound match", IsModelNotFound, NewModelNotFoundError("x"), true},
		{"IsTimeout match", IsTimeout, NewTimeoutError("x"), true},
		{"IsRateLimited match", IsRateLimited, NewRateLimitedError("x"), true},
		{"IsCancelled match", IsCancelled, NewCancelledError("x"), true},
		{"IsUnavailable match", IsUnavailable, NewUnavailableError("x"), true},
		{"IsUnavailable plain error", IsUnavailable, errors.New("x"), false},
		{"wrapped match", IsCancelled, fmt.Errorf("outer: %w", NewCancelledError("x")), true},
		{"nil error", IsTimeout, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
