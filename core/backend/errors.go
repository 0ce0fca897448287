package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrEmptyResponse = errors.New("empty response")

// APIError is a failed exchange with the backend: a non-success status or a
// request that never got a response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend %s: request failed: %v", e.Endpoint, e.Err)
	}
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("backend %s: %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	if e.Message == "" {
		return fmt.Sprintf("backend %s: %d %s", e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("backend %s: %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 }

// Retryable reports whether the same request might succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 0 || e.IsRateLimited() || e.IsServerError()
}

// ServiceError is an explicit error field in a backend response body. The
// service understood the request and refused it, so it is never retried.
type ServiceError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("backend %s: %s", e.Endpoint, e.Message)
}

func (e *ServiceError) Retryable() bool { return false }

// ServiceMessage is the error text as the service wrote it.
func (e *ServiceError) ServiceMessage() string { return e.Message }
