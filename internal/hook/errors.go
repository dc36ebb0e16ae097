package hook

import "errors"

// Errors for filter scripts.
var (
	// ErrFilterClosed is returned when using a closed filter.
	ErrFilterClosed = errors.New("lua filter is closed")

	// ErrNoAcceptFunction is returned when a script does not define accept.
	ErrNoAcceptFunction = errors.New("lua script does not define accept(root, path)")

	// ErrExecutionTimeout is returned when a call exceeds its time budget.
	ErrExecutionTimeout = errors.New("lua execution timeout")
)
