package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnauthenticated is returned when a call needs a credential that is
	// missing, or when the server rejected the one that was sent.
	ErrUnauthenticated = errors.New("apiclient: unauthenticated")
	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("apiclient: not found")
	// ErrRateLimited matches any *RateLimitedError.
	ErrRateLimited = errors.New("apiclient: rate limited")
)

// DefaultRetryAfter is used when a 429 carries no usable Retry-After header.
const DefaultRetryAfter = 60 * time.Second

// NotFoundError reports a 404 for a named resource.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return "apiclient: resource not found"
	}
	return fmt.Sprintf("apiclient: %s not found", e.Resource)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// RateLimitedError reports a 429. RetryAfter is the server's requested wait.
type RateLimitedError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("apiclient: rate limited (retry after %s): %s", e.RetryAfter, e.Message)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterSeconds returns RetryAfter in whole seconds.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return int(e.RetryAfter / time.Second)
}

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("apiclient: http %d: %s", e.Status, msg)
}

// ValidationError reports a 2xx response whose body could not be decoded or
// failed the result's own validation.
type ValidationError struct {
	Method string
	Path   string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("apiclient: invalid response for %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator is implemented by response types that check their own shape.
type Validator interface {
	Validate() error
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	var nf *NotFoundError
	var rl *RateLimitedError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Status
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return 0
	}
}
