package domain

import "errors"

var (
	// ErrInvalidJob is returned when a pipeline-start request cannot be turned into a Job
	ErrInvalidJob = errors.New("invalid job")

	// ErrUnrecoverable marks failures that must stop the service instead of being retried
	ErrUnrecoverable = errors.New("unrecoverable error")

	// ErrSessionClosed is returned when the broker closes a consuming session
	ErrSessionClosed = errors.New("broker session closed")
)
