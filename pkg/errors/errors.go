// Package errors provides the error taxonomy for the event subsystem.
//
// Four families of failure are distinguished:
//   - AuthError: the credential was rejected, or could not be obtained or refreshed
//   - ConnectionError: network-level failure on a stream; retried with backoff
//   - DecodeError: one malformed record on a stream; the stream continues
//   - PublishError: a single publish call was rejected
//
// Every typed error answers errors.Is for its family sentinel, so callers can
// classify without type assertions:
//
//	if errors.Is(err, errors.ErrAuth) {
//	    // resubscribe after fixing the credential
//	}
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is is an alias for the standard library errors.Is.
var Is = errors.Is

// As is an alias for the standard library errors.As.
var As = errors.As

// Family sentinels.
var (
	// ErrAuth indicates the credential is invalid, expired, or could not be refreshed.
	ErrAuth = errors.New("authentication failed")

	// ErrConnection indicates a network-level failure on a stream.
	ErrConnection = errors.New("connection failed")

	// ErrDecode indicates a malformed record on a stream.
	ErrDecode = errors.New("malformed event record")

	// ErrPublish indicates a publish call was rejected.
	ErrPublish = errors.New("publish rejected")

	// ErrInvalidInput indicates that provided input was invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// AuthError reports a credential problem.
type AuthError struct {
	// StatusCode is the HTTP status returned by the endpoint, 0 if the
	// failure happened before any request was made.
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "credential rejected"
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", msg, e.Err)
	}
	return "authentication failed: " + msg
}

// Unwrap implements errors.Unwrap.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}

// NewAuthError creates a new AuthError.
func NewAuthError(statusCode int, message string) *AuthError {
	return &AuthError{StatusCode: statusCode, Message: message}
}

// ConnectionError reports a failed connection attempt or a dropped stream.
type ConnectionError struct {
	// Op is what was being done: "dial", "read", "idle", "status".
	Op  string
	URL string
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("connection %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(op, url string, err error) *ConnectionError {
	return &ConnectionError{Op: op, URL: url, Err: err}
}

// DecodeError reports one malformed record.
type DecodeError struct {
	// Name is the event name if it was parsed before the failure.
	Name   string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	prefix := "malformed event record"
	if e.Name != "" {
		prefix = fmt.Sprintf("malformed event record %q", e.Name)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Reason)
}

// Unwrap implements errors.Unwrap.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// NewDecodeError creates a new DecodeError.
func NewDecodeError(name, reason string, err error) *DecodeError {
	return &DecodeError{Name: name, Reason: reason, Err: err}
}

// PublishError reports a rejected publish call.
type PublishError struct {
	Name       string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *PublishError) Error() string {
	var msg string
	switch {
	case e.StatusCode != 0:
		msg = fmt.Sprintf("publish %q rejected (status %d): %s", e.Name, e.StatusCode, e.Message)
	default:
		msg = fmt.Sprintf("publish %q rejected: %s", e.Name, e.Message)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap.
func (e *PublishError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *PublishError) Is(target error) bool {
	return target == ErrPublish
}

// NewPublishError creates a new PublishError.
func NewPublishError(name string, statusCode int, message string) *PublishError {
	return &PublishError{Name: name, StatusCode: statusCode, Message: message}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// APIError carries a non-success HTTP response from the cloud.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
	Endpoint    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Description
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = "unexpected response"
	}
	return fmt.Sprintf("API error from %s (status %d): %s", e.Endpoint, e.StatusCode, msg)
}

// Is implements errors.Is support. 401 and 403 classify as ErrAuth.
func (e *APIError) Is(target error) bool {
	return target == ErrAuth && IsAuthStatus(e.StatusCode)
}

// IsAuthStatus reports whether an HTTP status means the credential was refused.
func IsAuthStatus(code int) bool {
	return code == 401 || code == 403
}
