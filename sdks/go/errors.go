package pagegate

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrNotFound is returned when the addressed resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded is returned when an upload would push the project
	// past its storage quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrUnauthorized is returned when the API key is missing, invalid, or
	// does not grant access to the addressed project.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrServerUnreachable is returned when the PageGate server cannot be
	// contacted after retries.
	ErrServerUnreachable = errors.New("server unreachable")
)

// APIError is returned for any non-2xx admin API response.
type APIError struct {
	// Status is the HTTP status code of the response.
	Status int
	// Code is the machine-readable error code from the response body.
	Code string
	// Message is the human-readable explanation from the response body.
	Message string
}

// Error returns a human-readable description of the API error.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("pagegate [%d %s]: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("pagegate [%d %s]", e.Status, e.Code)
}

// Is reports whether this error matches the target error. It maps
// well-known responses onto the package sentinel errors so callers can
// branch with errors.Is alone.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrQuotaExceeded:
		return e.Code == "quota_exceeded"
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// ServerUnreachableError is returned when the PageGate server cannot be
// contacted after retries.
type ServerUnreachableError struct {
	// Cause is the underlying error from the last attempt.
	Cause error
}

// Error returns a human-readable description of the server unreachable error.
func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

// Unwrap returns the underlying error cause.
func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
