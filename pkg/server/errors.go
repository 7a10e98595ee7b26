package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for request parsing and live-connection conditions.
var (
	// ErrMalformedCookie is returned when a Cookie header pair does not
	// decode to exactly two non-empty parts.
	ErrMalformedCookie = errors.New("server: malformed cookie pair")

	// ErrCSRFRejected is returned when a non-GET request is missing the
	// CSRF protection header.
	ErrCSRFRejected = errors.New("server: cross-site request rejected")

	// ErrBodyTooLarge is returned when the request body exceeds a
	// configured ingestion limit.
	ErrBodyTooLarge = errors.New("server: request body exceeds limit")

	// ErrLiveURLMismatch is returned when a reattachment request's URL does
	// not match the URL the connection was established with.
	ErrLiveURLMismatch = errors.New("server: live-connection url mismatch")

	// ErrResponseEnded is returned when a write is attempted after End.
	ErrResponseEnded = errors.New("server: response already ended")

	// ErrConnectionClosed is returned when the live connection's write path
	// has been taken over or torn down.
	ErrConnectionClosed = errors.New("server: connection closed")
)

// DispatchError wraps a handler error with request context for logging and
// for the error-phase routes that inspect it.
type DispatchError struct {
	RequestID string
	Method    string
	Path      string
	Err       error
}

// Error returns the error message with request context.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("server: request %s: %s %s: %v", e.RequestID, e.Method, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// LimitError reports which ingestion limit was violated. It always maps to a
// 413 response.
type LimitError struct {
	Limit string // name of the violated limit
	Max   int64
}

// Error returns the error message.
func (e *LimitError) Error() string {
	return fmt.Sprintf("server: %s limit exceeded (max %d)", e.Limit, e.Max)
}

// Unwrap lets errors.Is(err, ErrBodyTooLarge) match any limit violation.
func (e *LimitError) Unwrap() error {
	return ErrBodyTooLarge
}
