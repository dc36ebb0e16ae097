// Package config loads session settings from TOML or YAML files and
// DIRTYSCOPE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dshills/dirtyscope/internal/logging"
	"github.com/dshills/dirtyscope/internal/vcs"
)

// Duration is a time.Duration that reads and writes strings like "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full session configuration.
type Config struct {
	// Roots are the workspace folders to track. Each is searched for VCS
	// checkouts.
	Roots []string `toml:"roots" yaml:"roots"`

	Watcher WatcherConfig `toml:"watcher" yaml:"watcher"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Refresh RefreshConfig `toml:"refresh" yaml:"refresh"`
	VCS     VCSConfig     `toml:"vcs" yaml:"vcs"`
	Hooks   HooksConfig   `toml:"hooks" yaml:"hooks"`
}

// WatcherConfig controls file system watching.
type WatcherConfig struct {
	// Ignore lists gitignore-style patterns added to the defaults.
	Ignore       []string `toml:"ignore" yaml:"ignore"`
	IgnoreHidden bool     `toml:"ignore_hidden" yaml:"ignore_hidden"`
	BufferSize   int      `toml:"buffer_size" yaml:"buffer_size"`
	// MaxWatches caps watched directories; 0 is unlimited.
	MaxWatches int `toml:"max_watches" yaml:"max_watches"`
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// RefreshConfig paces the updater.
type RefreshConfig struct {
	// Debounce is how long to wait after a signal before retrieving, so
	// bursts of changes land in one cycle.
	Debounce Duration `toml:"debounce" yaml:"debounce"`
	// Interval is the minimum time between two refresh cycles.
	Interval Duration `toml:"interval" yaml:"interval"`
}

// VCSConfig selects which checkouts are tracked.
type VCSConfig struct {
	// Kinds restricts discovery, e.g. ["git"]. Empty means all known kinds.
	Kinds []string `toml:"kinds" yaml:"kinds"`
	// Nested also registers checkouts found below each root.
	Nested bool `toml:"nested" yaml:"nested"`
}

// HooksConfig configures user scripts.
type HooksConfig struct {
	// Filter is a Lua script defining accept(root, path).
	Filter string `toml:"filter" yaml:"filter"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Watcher: WatcherConfig{
			BufferSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
		Refresh: RefreshConfig{
			Debounce: Duration(100 * time.Millisecond),
		},
		VCS: VCSConfig{
			Nested: true,
		},
	}
}

// Validate checks every setting and returns the first problem as a
// *ValidationError.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return &ValidationError{Field: "logging.level", Value: c.Logging.Level, Message: err.Error()}
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return &ValidationError{Field: "logging.format", Value: c.Logging.Format, Message: err.Error()}
	}
	if c.Refresh.Debounce < 0 {
		return &ValidationError{Field: "refresh.debounce", Value: c.Refresh.Debounce.Std(), Message: "must not be negative"}
	}
	if c.Refresh.Interval < 0 {
		return &ValidationError{Field: "refresh.interval", Value: c.Refresh.Interval.Std(), Message: "must not be negative"}
	}
	if c.Watcher.BufferSize < 0 {
		return &ValidationError{Field: "watcher.buffer_size", Value: c.Watcher.BufferSize, Message: "must not be negative"}
	}
	if c.Watcher.MaxWatches < 0 {
		return &ValidationError{Field: "watcher.max_watches", Value: c.Watcher.MaxWatches, Message: "must not be negative"}
	}
	for _, kind := range c.VCS.Kinds {
		if _, err := vcs.Marker(kind); err != nil {
			return &ValidationError{Field: "vcs.kinds", Value: kind, Message: err.Error()}
		}
	}
	for i, root := range c.Roots {
		if strings.TrimSpace(root) == "" {
			return &ValidationError{Field: fmt.Sprintf("roots[%d]", i), Value: root, Message: "empty path"}
		}
	}
	return nil
}

// Options converts the logging settings for logging.New.
func (c LoggingConfig) Options() (logging.Options, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.Options{}, err
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return logging.Options{}, err
	}
	return logging.Options{Level: level, Format: format}, nil
}
