package domain

import "errors"

// Sentinel errors for the application. Handlers map these to HTTP status
// codes; the websocket layer maps them to error events.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("resource already exists")
	ErrValidation   = errors.New("invalid input")
	ErrUnavailable  = errors.New("store unavailable")
	ErrInternal     = errors.New("internal server error")
)
