package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrSenderUnknown     = errors.New("sender is not registered")
)
