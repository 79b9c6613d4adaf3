// Structured API errors shared by the server and its clients.
package dto

import (
	"fmt"
	"net/http"
)

// ErrorCode is a machine readable error category.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest   ErrorCode = "BAD_REQUEST"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// APIError is an error carrying an HTTP status and a stable code.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrapped    error
}

func newAPIError(status int, code ErrorCode, msg string) *APIError {
	return &APIError{statusCode: status, code: code, message: msg}
}

// BadRequest is returned for invalid input.
func BadRequest(msg string) *APIError {
	return newAPIError(http.StatusBadRequest, CodeBadRequest, msg)
}

// NotFound is returned when the named resource does not exist.
func NotFound(resource string) *APIError {
	return newAPIError(http.StatusNotFound, CodeNotFound, resource+" not found")
}

// Conflict is returned when the request races the resource state.
func Conflict(msg string) *APIError {
	return newAPIError(http.StatusConflict, CodeConflict, msg)
}

// InternalError is returned for server-side failures.
func InternalError(msg string) *APIError {
	return newAPIError(http.StatusInternalServerError, CodeInternal, msg)
}

func (e *APIError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *APIError) Unwrap() error { return e.wrapped }

// StatusCode returns the HTTP status.
func (e *APIError) StatusCode() int { return e.statusCode }

// Code returns the error code.
func (e *APIError) Code() ErrorCode { return e.code }

// Message returns the message without the wrapped cause.
func (e *APIError) Message() string { return e.message }

// Details returns extra key/values, possibly nil.
func (e *APIError) Details() map[string]any { return e.details }

// Wrap records the underlying cause. The cause is logged but never sent to
// the client.
func (e *APIError) Wrap(err error) *APIError {
	e.wrapped = err
	return e
}

// WithDetail attaches a key/value sent to the client.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = map[string]any{}
	}
	e.details[key] = value
	return e
}

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error ErrorDetails `json:"error"`
}

// ErrorDetails is the payload of ErrorResponse.
type ErrorDetails struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Unauthorized is returned when the credential is missing or invalid.
func Unauthorized(msg string) *APIError {
	return newAPIError(http.StatusUnauthorized, CodeUnauthorized, msg)
}
