// Package errors defines custom error types and error handling utilities for the Contatto bridge.
// This package provides structured error types that carry a stable code, an HTTP status for
// the bridge's own API, an optional cause and free-form metadata.
package errors

import (
	stderrors "errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Code identifies an error class.
type Code string

const (
	// CodeAuthFailed indicates invalid credentials, a rejected token or a failed renewal
	CodeAuthFailed Code = "auth_failed"

	// CodeReauthRequired indicates both refresh and login failed; credentials must be re-entered
	CodeReauthRequired Code = "reauth_required"

	// CodeTransport indicates a network-level connect/read/write failure
	CodeTransport Code = "transport_error"

	// CodeKeepAliveTimeout indicates no traffic arrived within the keep-alive window
	CodeKeepAliveTimeout Code = "keepalive_timeout"

	// CodeMalformedFrame indicates a real-time frame that cannot be classified
	CodeMalformedFrame Code = "malformed_frame"

	// CodeAPI indicates the vendor HTTP API answered with an unexpected status
	CodeAPI Code = "api_error"

	// CodeInvalidArgument indicates a caller-supplied argument is invalid
	CodeInvalidArgument Code = "invalid_argument"

	// CodeNotFound indicates a resource was not found
	CodeNotFound Code = "not_found"

	// CodeRateLimited indicates a device received too many commands
	CodeRateLimited Code = "rate_limited"

	// CodeInternal indicates an unexpected internal failure
	CodeInternal Code = "internal_error"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// ContattoError represents a structured error with additional metadata
type ContattoError interface {
	error

	// Code returns the error class
	Code() Code

	// HTTPStatus returns the status the bridge's HTTP API answers with
	HTTPStatus() int

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) ContattoError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) ContattoError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// baseError is the internal implementation of ContattoError
type baseError struct {
	code       Code
	httpStatus int
	message    string
	cause      error
	metadata   map[string]interface{}
}

// Error implements the error interface
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Code() Code {
	return e.code
}

func (e *baseError) HTTPStatus() int {
	return e.httpStatus
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) WithCause(cause error) ContattoError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) ContattoError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// NewError creates a new ContattoError with the specified parameters
func NewError(code Code, httpStatus int, message string) ContattoError {
	return &baseError{
		code:       code,
		httpStatus: httpStatus,
		message:    message,
		metadata:   make(map[string]interface{}),
	}
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrAuthFailed creates an auth_failed error
func ErrAuthFailed(message string) ContattoError {
	return NewError(CodeAuthFailed, http.StatusUnauthorized, message)
}

// ErrReauthRequired creates a reauth_required error
func ErrReauthRequired(message string) ContattoError {
	return NewError(CodeReauthRequired, http.StatusUnauthorized, message)
}

// ErrTransport creates a transport_error error
func ErrTransport(message string) ContattoError {
	return NewError(CodeTransport, http.StatusBadGateway, message)
}

// ErrKeepAliveTimeout creates a keepalive_timeout error for the given silent window
func ErrKeepAliveTimeout(window fmt.Stringer) ContattoError {
	return NewError(CodeKeepAliveTimeout, http.StatusGatewayTimeout,
		fmt.Sprintf("no traffic within keep-alive window of %s", window)).
		WithMetadata("window", window.String())
}

// ErrMalformedFrame creates a malformed_frame error
func ErrMalformedFrame(raw string, reason string) ContattoError {
	return NewError(CodeMalformedFrame, http.StatusBadRequest,
		fmt.Sprintf("malformed frame: %s", reason)).
		WithMetadata("frame", truncate(raw, 64))
}

// ErrAPI creates an api_error for an unexpected vendor response
func ErrAPI(status int, body string) ContattoError {
	return NewError(CodeAPI, http.StatusBadGateway,
		fmt.Sprintf("vendor API answered %d", status)).
		WithMetadata("status", status).
		WithMetadata("body", truncate(body, 256))
}

// ErrInvalidArgument creates an invalid_argument error
func ErrInvalidArgument(message string) ContattoError {
	return NewError(CodeInvalidArgument, http.StatusBadRequest, message)
}

// ErrDeviceNotFound creates a device not found error
func ErrDeviceNotFound(serial string) ContattoError {
	return NewError(CodeNotFound, http.StatusNotFound,
		fmt.Sprintf("device not found: %s", serial)).
		WithMetadata("serial", serial)
}

// ErrRateLimited creates a rate_limited error carrying the wait in seconds
func ErrRateLimited(serial string, retryAfter time.Duration) ContattoError {
	secs := int(math.Ceil(retryAfter.Seconds()))
	return NewError(CodeRateLimited, http.StatusTooManyRequests,
		fmt.Sprintf("too many commands for %s", serial)).
		WithMetadata("serial", serial).
		WithMetadata("retry_after", secs)
}

// ErrInternal creates an internal_error error
func ErrInternal(message string) ContattoError {
	return NewError(CodeInternal, http.StatusInternalServerError, message)
}

// ================================================================================
// Error Classification Utilities
// ================================================================================

// As finds the first ContattoError in err's chain
func As(err error) (ContattoError, bool) {
	var ce ContattoError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf returns the code of the first ContattoError in err's chain, or CodeInternal
func CodeOf(err error) Code {
	if ce, ok := As(err); ok {
		return ce.Code()
	}
	return CodeInternal
}

// IsAuthError reports whether err is an authentication failure of any kind
func IsAuthError(err error) bool {
	code := CodeOf(err)
	return err != nil && (code == CodeAuthFailed || code == CodeReauthRequired)
}

// IsReauthRequired reports whether err requires the user to re-enter credentials
func IsReauthRequired(err error) bool {
	return err != nil && CodeOf(err) == CodeReauthRequired
}

// IsTransportError reports whether err is a recoverable transport failure.
// Keep-alive timeouts are transport failures.
func IsTransportError(err error) bool {
	code := CodeOf(err)
	return err != nil && (code == CodeTransport || code == CodeKeepAliveTimeout)
}

// IsMalformedFrame reports whether err is a frame decoding failure
func IsMalformedFrame(err error) bool {
	return err != nil && CodeOf(err) == CodeMalformedFrame
}

// HTTPStatusOf maps any error to the status the bridge's HTTP API answers with
func HTTPStatusOf(err error) int {
	if ce, ok := As(err); ok {
		return ce.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
