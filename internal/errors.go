package cfx

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrKeyRevoked          = errors.New("api key revoked")
	ErrRateLimited         = errors.New("rate limited")
	ErrTooManyStreams      = errors.New("too many concurrent streams")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrBreakerOpen         = errors.New("circuit open")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("not found")
)
