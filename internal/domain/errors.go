package domain

import "errors"

var (
	// ErrValidation marks caller-side input errors rejected before a run starts.
	ErrValidation = errors.New("validation error")
	// ErrRunInProgress is returned when a run is requested while another is RUNNING.
	ErrRunInProgress = errors.New("run in progress")
	ErrNotFound      = errors.New("not found")
)
