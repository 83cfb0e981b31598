// Package dto defines API request/response types and error handling.
//
// Every response uses the same envelope:
//
//	{"success": true, "data": {...}}
//	{"success": false, "error": {"code": 404, "message": "..."}}
//
// where error.code repeats the HTTP status. Request types carry path, query
// and json struct tags for parameter binding and implement Validatable.
package dto

import (
	"fmt"
	"net/http"
	"strconv"
)

// ErrorWithStatus is an error that includes an HTTP status code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	// Message is the text shown to the client. It never includes the wrapped
	// cause.
	Message() string
}

// APIError is a concrete error type with a status code and a client message.
type APIError struct {
	statusCode int
	message    string
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, message string) *APIError {
	return &APIError{statusCode: statusCode, message: message}
}

// Wrap wraps an underlying error. It is logged, not returned to the client.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Message returns the client facing message.
func (e *APIError) Message() string {
	return e.message
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// Predefined error constructors for common cases

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, resource+" not found")
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, message)
}

// MissingField creates a 400 Bad Request error for a missing field.
func MissingField(fieldName string) *APIError {
	return NewAPIError(http.StatusBadRequest, "Missing required field: "+fieldName)
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *APIError {
	return NewAPIError(http.StatusUnauthorized, message)
}

// Forbidden creates a 403 Forbidden error.
func Forbidden(message string) *APIError {
	return NewAPIError(http.StatusForbidden, message)
}

// Conflict creates a 409 Conflict error.
func Conflict(message string) *APIError {
	return NewAPIError(http.StatusConflict, message)
}

// PayloadTooLarge creates a 413 error for oversized request bodies.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, "Request body exceeds "+strconv.FormatInt(limit, 10)+" bytes")
}

// RateLimitExceeded creates a 429 error.
func RateLimitExceeded(retryAfter int) *APIError {
	return NewAPIError(http.StatusTooManyRequests, "Rate limit exceeded, retry in "+strconv.Itoa(retryAfter)+"s")
}

// Unavailable creates a 503 error for a busy resource.
func Unavailable(message string) *APIError {
	return NewAPIError(http.StatusServiceUnavailable, message)
}

// Internal returns a 500 Internal Server Error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message)
}

// InternalWithError creates a 500 error wrapping an underlying error.
func InternalWithError(err error) *APIError {
	return Internal(InternalMessage).Wrap(err)
}

// InternalMessage is the only text a client sees for unexpected failures.
const InternalMessage = "Internal server error"
