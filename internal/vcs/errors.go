package vcs

import (
	"errors"
	"fmt"
)

// Error types for VCS root operations.
var (
	// ErrInvalidRoot indicates an empty or unusable root path.
	ErrInvalidRoot = errors.New("invalid root")

	// ErrRootNotFound indicates the root is not registered.
	ErrRootNotFound = errors.New("root not registered")

	// ErrRepositoryNotFound indicates no VCS marker was found above a path.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrUnknownKind indicates a VCS kind without a known marker.
	ErrUnknownKind = errors.New("unknown vcs kind")
)

// CommandError reports a failed VCS command.
type CommandError struct {
	Root   string   // Repository root
	Args   []string // Command arguments
	Stderr string   // Trimmed standard error
	Err    error    // Underlying error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s %v: %s", e.Root, e.Args, e.Stderr)
	}
	return fmt.Sprintf("%s %v: %v", e.Root, e.Args, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}
