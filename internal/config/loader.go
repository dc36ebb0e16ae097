package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads the file at path over DefaultConfig. The decoder is chosen by
// extension. A missing file is not an error: the defaults are returned.
// An empty path also returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(path, data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is Load followed by ApplyEnv and Validate.
func LoadFile(path, envPrefix string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(envPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses data into cfg using the decoder for path's extension.
// Settings absent from data keep their current values.
func Decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return tomlParseError(path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	return nil
}

func tomlParseError(path string, err error) error {
	pe := &ParseError{Path: path, Message: err.Error(), Err: err}

	var decodeErr *toml.DecodeError
	if errors.As(err, &decodeErr) {
		pe.Line, pe.Column = decodeErr.Position()
	}
	return pe
}
