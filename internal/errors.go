package kirogate

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrRateLimited      = errors.New("rate limited")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrModelNotAllowed  = errors.New("model not allowed")
	ErrUpstreamError    = errors.New("upstream error")
	ErrBadRequest       = errors.New("bad request")
	ErrCircuitOpen      = errors.New("circuit open")
	ErrPoolEmpty        = errors.New("credential pool empty")
	ErrNoCredential     = errors.New("no credential available")
	ErrCredentialBanned = errors.New("credential banned")
	ErrStreamFailed     = errors.New("event stream failed")
)
