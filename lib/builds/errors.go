package builds

import "errors"

var (
	// ErrNotFound is returned when a build does not exist
	ErrNotFound = errors.New("build not found")

	// ErrInvalidRequest is returned for recipes that fail validation
	ErrInvalidRequest = errors.New("invalid build request")

	// ErrAlreadyCompleted is returned when cancelling a finished build
	ErrAlreadyCompleted = errors.New("build already completed")

	// ErrBuildTimeout is returned when a build exceeds its timeout
	ErrBuildTimeout = errors.New("build timeout")

	// ErrBuildCancelled is returned when a build is cancelled while running
	ErrBuildCancelled = errors.New("build cancelled")
)

// ErrNotRendered is returned for the Dockerfile of a build that has not
// reached rendering.
var ErrNotRendered = errors.New("dockerfile not rendered yet")
