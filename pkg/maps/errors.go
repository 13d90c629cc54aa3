package maps

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoAPIKey is returned when a provider that needs a key has none.
	ErrNoAPIKey = errors.New("maps: API key required")

	// ErrNoResults is returned when a search matched nothing.
	ErrNoResults = errors.New("maps: no results")

	// ErrNoRoute is returned when the directions response has no usable route.
	ErrNoRoute = errors.New("maps: no route found")

	// ErrMalformedResponse is returned when a provider's response cannot
	// be decoded.
	ErrMalformedResponse = errors.New("maps: malformed response")

	// ErrProviderUnavailable is returned when a chain has no providers.
	ErrProviderUnavailable = errors.New("maps: no providers available")
)

// APIError represents an error response from a map service.
type APIError struct {
	StatusCode int
	// Code is the service's own error code, when the body carries one.
	Code     int
	Message  string
	Provider string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("maps [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true for HTTP 401 and 403.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("maps [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError aggregates the failures of every geocoder in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "maps: all geocoders failed: " + strings.Join(msgs, "; ")
}

// Unwrap returns the individual errors.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}
