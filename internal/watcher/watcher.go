// Package watcher turns file system activity under the session roots into
// dirty marks.
//
// A Watcher reports raw changes (create, write, remove, rename, chmod). The
// Feeder reads them and calls into the dirty tracker, choosing between a
// single-file mark and a recursive directory mark per event.
package watcher

import (
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
	ErrWatchLimit      = errors.New("maximum watch limit reached")

	// ErrOverflow is sent on the error channel when events were lost,
	// either by the kernel queue or a full event channel.
	ErrOverflow = errors.New("event queue overflow")
)

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed away.
	OpRename
	// OpChmod indicates attributes were changed.
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event is a single file system change.
type Event struct {
	// Name is the absolute path of the affected file or directory.
	Name string

	Op Op

	// IsDir is true if the path was a directory when the event was handled.
	// It is always false for removals and renames.
	IsDir bool

	Timestamp time.Time
}

// Path returns the affected path. It lets an Event act as a dirty.Handle.
func (e Event) Path() string {
	return e.Name
}

// Stats provides watcher status information.
type Stats struct {
	WatchedPaths int
	TotalEvents  int64
	Dropped      int64
	Errors       int64
	LastError    error
	StartTime    time.Time
}

// Watcher monitors file system changes.
type Watcher interface {
	// Watch starts watching a single directory (not its subdirectories).
	Watch(path string) error

	// WatchRecursive watches a directory and every subdirectory that is not
	// ignored. Directories created later are picked up automatically.
	WatchRecursive(path string) error

	// Unwatch stops watching a path.
	Unwatch(path string) error

	// Events returns the change channel. It is closed by Close.
	Events() <-chan Event

	// Errors returns the error channel. It is closed by Close.
	Errors() <-chan error

	// Close stops the watcher and releases resources.
	Close() error

	Stats() Stats
}

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// Config holds watcher configuration options.
type Config struct {
	// BufferSize is the size of the event and error channels.
	// Default: 256
	BufferSize int

	// IgnorePatterns are gitignore-style patterns for paths to skip.
	IgnorePatterns []string

	// IgnoreHidden skips dot-files and dot-directories.
	IgnoreHidden bool

	// MaxWatches is the maximum number of watched directories; 0 is unlimited.
	MaxWatches int

	EventFilter EventFilter
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:     256,
		IgnorePatterns: DefaultIgnorePatterns,
	}
}

// Option configures a watcher.
type Option func(*Config)

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(c *Config) {
		c.BufferSize = size
	}
}

// WithIgnorePatterns replaces the ignore patterns.
func WithIgnorePatterns(patterns []string) Option {
	return func(c *Config) {
		c.IgnorePatterns = patterns
	}
}

// WithIgnoreHidden enables ignoring hidden files.
func WithIgnoreHidden(ignore bool) Option {
	return func(c *Config) {
		c.IgnoreHidden = ignore
	}
}

// WithMaxWatches sets the maximum number of watches.
func WithMaxWatches(max int) Option {
	return func(c *Config) {
		c.MaxWatches = max
	}
}

// WithEventFilter sets the event filter.
func WithEventFilter(filter EventFilter) Option {
	return func(c *Config) {
		c.EventFilter = filter
	}
}
