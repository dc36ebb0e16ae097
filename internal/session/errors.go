package session

import "errors"

// Errors returned by session operations.
var (
	// ErrNoRoots is returned when no configured root is inside a checkout.
	ErrNoRoots = errors.New("no version-controlled roots found")

	// ErrClosed is returned when using a closed session.
	ErrClosed = errors.New("session is closed")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("session is already running")

	// errWatcherDone ends Run when the watcher's event stream closes.
	errWatcherDone = errors.New("watcher stopped")
)

// InitError reports which component failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
