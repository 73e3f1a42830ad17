package service

import "errors"

// Domain errors surfaced to callers.
var (
	ErrNotEligible       = errors.New("not eligible to take this exam")
	ErrUnauthorized      = errors.New("session token missing or invalid")
	ErrForbidden         = errors.New("caller does not own this resource")
	ErrSessionClosed     = errors.New("session is closed")
	ErrAlreadyTerminal   = errors.New("session already reached a terminal state")
	ErrSessionLocked     = errors.New("session is locked")
	ErrSessionNotStarted = errors.New("session has not started")
	ErrInvalidTransition = errors.New("transition not allowed from current state")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDeadlinePassed    = errors.New("session deadline has passed")
	ErrNotFound          = errors.New("not found")
	ErrNotUngraded       = errors.New("submission is already graded")
)

