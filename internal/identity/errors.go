package identity

import "errors"

var (
	ErrAuthDisabled = errors.New("session signing secret not configured")
	ErrInvalidToken = errors.New("invalid session token")
	ErrRevoked      = errors.New("session revoked")
)
