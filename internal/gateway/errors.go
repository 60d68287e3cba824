package gateway

import "errors"

// The gateway's error taxonomy. Handlers map these onto the HTTP contract;
// nothing else escapes the gateway boundary.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrRateLimited     = errors.New("rate limited")
)
