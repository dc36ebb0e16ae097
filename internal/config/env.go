package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "DIRTYSCOPE_"

// envSetting applies one environment variable to a Config.
type envSetting struct {
	name  string
	field string
	set   func(c *Config, v string) error
}

// envSettings lists every recognised variable, without prefix.
var envSettings = []envSetting{
	{"ROOTS", "roots", func(c *Config, v string) error {
		c.Roots = splitList(v, string(filepath.ListSeparator))
		return nil
	}},
	{"LOG_LEVEL", "logging.level", func(c *Config, v string) error {
		c.Logging.Level = v
		return nil
	}},
	{"LOG_FORMAT", "logging.format", func(c *Config, v string) error {
		c.Logging.Format = v
		return nil
	}},
	{"REFRESH_DEBOUNCE", "refresh.debounce", func(c *Config, v string) error {
		return c.Refresh.Debounce.UnmarshalText([]byte(v))
	}},
	{"REFRESH_INTERVAL", "refresh.interval", func(c *Config, v string) error {
		return c.Refresh.Interval.UnmarshalText([]byte(v))
	}},
	{"IGNORE", "watcher.ignore", func(c *Config, v string) error {
		c.Watcher.Ignore = append(c.Watcher.Ignore, splitList(v, ",")...)
		return nil
	}},
	{"IGNORE_HIDDEN", "watcher.ignore_hidden", func(c *Config, v string) error {
		b, err := parseBool(v)
		c.Watcher.IgnoreHidden = b
		return err
	}},
	{"MAX_WATCHES", "watcher.max_watches", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Watcher.MaxWatches = n
		return err
	}},
	{"VCS_KINDS", "vcs.kinds", func(c *Config, v string) error {
		c.VCS.Kinds = splitList(v, ",")
		return nil
	}},
	{"VCS_NESTED", "vcs.nested", func(c *Config, v string) error {
		b, err := parseBool(v)
		c.VCS.Nested = b
		return err
	}},
	{"FILTER", "hooks.filter", func(c *Config, v string) error {
		c.Hooks.Filter = v
		return nil
	}},
}

// ApplyEnv overrides settings from prefixed environment variables, e.g.
// DIRTYSCOPE_LOG_LEVEL=debug. Empty values count as set.
func (c *Config) ApplyEnv(prefix string) error {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	for _, s := range envSettings {
		v, ok := os.LookupEnv(prefix + s.name)
		if !ok {
			continue
		}
		if err := s.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("env %s%s (%s): %w", prefix, s.name, s.field, err)
		}
	}
	return nil
}

func splitList(v, sep string) []string {
	var out []string
	for _, part := range strings.Split(v, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseBool accepts true/false, yes/no, on/off and 1/0.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", v)
	}
}
