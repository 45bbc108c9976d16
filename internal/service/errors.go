package service

import (
	"fmt"
	"time"
)

// Error is a domain error returned by service methods.
// Handlers map these to appropriate HTTP responses.
type Error struct {
	Kind    ErrorKind
	Code    string // machine-readable error code (e.g., "invalid_request", "not_found")
	Message string // human-readable message

	// RetryAfter, when nonzero, is surfaced to clients as a Retry-After
	// header. Only rate-limit errors set it.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorKind classifies domain errors for HTTP status mapping.
type ErrorKind int

const (
	ErrBadRequest      ErrorKind = iota // 400
	ErrUnauthenticated                  // 401
	ErrForbidden                        // 403
	ErrNotFound                         // 404
	ErrConflict                         // 409
	ErrRateLimited                      // 429
	ErrInternal                         // 500
	ErrBadGateway                       // 502
	ErrUnavailable                      // 503
)

func NewBadRequest(code, message string) *Error {
	return &Error{Kind: ErrBadRequest, Code: code, Message: message}
}

func NewUnauthenticated(code, message string) *Error {
	return &Error{Kind: ErrUnauthenticated, Code: code, Message: message}
}

func NewForbidden(code, message string) *Error {
	return &Error{Kind: ErrForbidden, Code: code, Message: message}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func NewConflict(code, message string) *Error {
	return &Error{Kind: ErrConflict, Code: code, Message: message}
}

func NewRateLimited(code, message string, retryAfter time.Duration) *Error {
	return &Error{Kind: ErrRateLimited, Code: code, Message: message, RetryAfter: retryAfter}
}

func NewInternal(code, message string) *Error {
	return &Error{Kind: ErrInternal, Code: code, Message: message}
}

func NewUnavailable(code, message string) *Error {
	return &Error{Kind: ErrUnavailable, Code: code, Message: message}
}

func NewBadGateway(code, message string) *Error {
	return &Error{Kind: ErrBadGateway, Code: code, Message: message}
}
