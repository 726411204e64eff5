package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrMalformedInput    = errors.New("malformed input")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPollTimeout       = errors.New("poll deadline exceeded")
)
