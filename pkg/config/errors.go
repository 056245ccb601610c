package config

import "errors"

var (
	// ErrMissingRundir is returned when the instance rundir is not set
	ErrMissingRundir = errors.New("rundir is required")

	// ErrInvalidTimeout is returned when the bootstrap timeout is invalid
	ErrInvalidTimeout = errors.New("bootstrap timeout must be greater than 0")

	// ErrInvalidMaxRetries is returned when max retries is invalid
	ErrInvalidMaxRetries = errors.New("max retries must be greater than or equal to 0")

	// ErrInvalidInstanceLevel is returned when the instance level is negative
	ErrInvalidInstanceLevel = errors.New("instance level must be greater than or equal to 0")
)
