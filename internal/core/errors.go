package core

import (
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeInitialization indicates the precache population failed (503)
	ErrorTypeInitialization ErrorType = "initialization_error"
	// ErrorTypeFetch indicates a cache miss whose network fetch failed (502)
	ErrorTypeFetch ErrorType = "fetch_error"
	// ErrorTypeStorage indicates the cache store could not be read or written (500)
	ErrorTypeStorage ErrorType = "storage_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates a missing or wrong admin key (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// ShimError is the error type returned by the offline cache shim and its collaborators.
type ShimError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Identifier is the resource identifier the error relates to, if any.
	Identifier string `json:"identifier,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *ShimError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Identifier != "" {
		msg = fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Identifier)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements the error unwrapping interface
func (e *ShimError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *ShimError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInitialization:
		return http.StatusServiceUnavailable
	case ErrorTypeFetch:
		return http.StatusBadGateway
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *ShimError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Identifier != "" {
		body["identifier"] = e.Identifier
	}
	return map[string]interface{}{"error": body}
}

// NewInitializationError creates a new initialization error (503)
func NewInitializationError(identifier string, message string, err error) *ShimError {
	return &ShimError{
		Type:       ErrorTypeInitialization,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Identifier: identifier,
		Err:        err,
	}
}

// NewFetchError creates a new fetch error (502)
func NewFetchError(identifier string, err error) *ShimError {
	return &ShimError{
		Type:       ErrorTypeFetch,
		Message:    "network fetch failed",
		StatusCode: http.StatusBadGateway,
		Identifier: identifier,
		Err:        err,
	}
}

// NewStorageError creates a new storage error (500)
func NewStorageError(message string, err error) *ShimError {
	return &ShimError{
		Type:       ErrorTypeStorage,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *ShimError {
	return &ShimError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *ShimError {
	return &ShimError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *ShimError {
	return &ShimError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}
