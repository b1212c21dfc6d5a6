// Package errors provides standardized error handling for the evidence service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the evidence service.
type ErrorCode string

const (
	// Input errors
	EVD_INVALID_INPUT ErrorCode = "EVD_INVALID_INPUT" // Missing, empty or oversize evidence file
	EVD_VALIDATION    ErrorCode = "EVD_VALIDATION"    // Malformed JSON or schema rejection
	EVD_BAD_REQUEST   ErrorCode = "EVD_BAD_REQUEST"   // Bad request

	// Authentication errors
	EVD_AUTHN ErrorCode = "EVD_AUTHN" // Missing or invalid bearer token

	// Resource errors
	EVD_NOT_FOUND ErrorCode = "EVD_NOT_FOUND" // Case, evidence or report not found

	// Analysis errors, recovered inside the service and never written to clients
	EVD_PROVIDER_UNAVAILABLE ErrorCode = "EVD_PROVIDER_UNAVAILABLE" // Primary analysis provider failed
	EVD_ADVANCED_FAILURE     ErrorCode = "EVD_ADVANCED_FAILURE"     // Aggregation or timeline synthesis failed

	// Server errors
	EVD_STORAGE  ErrorCode = "EVD_STORAGE"  // Document or blob store failure
	EVD_INTERNAL ErrorCode = "EVD_INTERNAL" // Internal server error
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
	cause         error
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Wrap creates an Error that keeps cause reachable through errors.Unwrap.
func Wrap(code ErrorCode, message string, cause error) *Error {
	e := New(code, message, "")
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != nil {
		msg = fmt.Sprintf("%s (details: %v)", msg, e.Details)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// WithCorrelationID returns a copy of e stamped with the given correlation id.
func (e *Error) WithCorrelationID(correlationID string) *Error {
	c := *e
	c.CorrelationID = correlationID
	return &c
}

// Is reports whether err or anything it wraps is an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// As extracts the outermost *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case EVD_INVALID_INPUT, EVD_VALIDATION, EVD_BAD_REQUEST:
		return http.StatusBadRequest
	case EVD_AUTHN:
		return http.StatusUnauthorized
	case EVD_NOT_FOUND:
		return http.StatusNotFound
	case EVD_PROVIDER_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
