package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnknownKind  = errors.New("unknown signal kind")
	ErrLockHeld     = errors.New("lock already held")
)
