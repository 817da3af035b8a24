package service

import (
	"errors"
)

// Caller-facing error taxonomy. Handlers map these onto stable response
// codes; anything else is an internal error, surfaced as retryable.
var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidState   = errors.New("action not valid for current session status")
	ErrExpired        = errors.New("guest session expired")
	ErrAlreadyClaimed = errors.New("session already claimed")
	ErrInvalidInput   = errors.New("invalid input")
)
