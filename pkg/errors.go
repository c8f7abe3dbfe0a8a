// Package pkg holds utilities shared across the agent.
// This file defines the domain-level errors.
//
// Errors are plain values compared by reference rather than by string:
//
//	if errors.Is(err, pkg.ErrUnauthorized) { ... }
package pkg

import (
	"errors"
	"fmt"
)

// Domain-level errors. The REST client and the socket channel convert wire
// failures into these; the local API maps them to HTTP status codes.
var (
	// ErrUnauthorized: missing, expired or rejected token. Terminal, never retried.
	ErrUnauthorized = errors.New("authentication failed")
	// ErrConflict: the server rejected an action because state changed concurrently.
	ErrConflict = errors.New("conflict")
	// ErrTransient: socket drop, dial failure, REST timeout or 5xx.
	ErrTransient = errors.New("transient network error")
	// ErrParse: malformed server payload.
	ErrParse = errors.New("malformed payload")
	// ErrNotFound: the referenced booking no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest: the request or the local transition is invalid.
	ErrBadRequest = errors.New("bad request")
	ErrInternal   = errors.New("internal error")
)

// APIError carries the upstream server's status and human-readable message.
// Kind is one of the sentinels above so callers can still use errors.Is.
type APIError struct {
	Status  int
	Message string
	Kind    error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%v: %s (status %d)", e.Kind, e.Message, e.Status)
}

func (e *APIError) Unwrap() error { return e.Kind }

// ServerMessage returns the upstream message carried by err, or fallback
// when err does not wrap an *APIError with a message.
func ServerMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
