package domain

import "errors"

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("notification not found")
	ErrConflict         = errors.New("conflict")
	ErrInFlight         = errors.New("notification is already being processed")
	ErrQueueUnavailable = errors.New("work queue unavailable")
)
