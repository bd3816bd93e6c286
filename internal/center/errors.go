package center

import "errors"

var (
	ErrInvalidRequest   = errors.New("center: invalid request")
	ErrUnauthenticated  = errors.New("center: unauthenticated")
	ErrAccessDenied     = errors.New("center: access denied")
	ErrNotFound         = errors.New("center: not found")
	ErrConflict         = errors.New("center: resource conflict")
	ErrUnknownClient    = errors.New("center: unknown client")
	ErrRedirectMismatch = errors.New("center: redirect_uri does not match registered domain")
	ErrCodeUsed         = errors.New("center: code has already been used")
	ErrCodeExpired      = errors.New("center: code has expired")
	ErrRateLimited      = errors.New("center: rate limit exceeded")
)
