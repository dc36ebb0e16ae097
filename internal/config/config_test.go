package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	if !cfg.VCS.Nested {
		t.Error("nested discovery should default on")
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want defaults", cfg.Logging.Level)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "dirtyscope.toml", `
roots = ["/ws/app", "/ws/lib"]

[watcher]
ignore = ["*.tmp"]
ignore_hidden = true

[logging]
level = "debug"

[refresh]
interval = "2s"

[vcs]
kinds = ["git"]

[hooks]
filter = "filter.lua"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if len(cfg.Roots) != 2 || cfg.Roots[1] != "/ws/lib" {
		t.Errorf("Roots = %v", cfg.Roots)
	}
	if !cfg.Watcher.IgnoreHidden || len(cfg.Watcher.Ignore) != 1 {
		t.Errorf("Watcher = %+v", cfg.Watcher)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Refresh.Interval.Std() != 2*time.Second {
		t.Errorf("Refresh.Interval = %v, want 2s", cfg.Refresh.Interval.Std())
	}
	if cfg.Refresh.Debounce.Std() != 100*time.Millisecond {
		t.Errorf("Refresh.Debounce = %v, want default 100ms", cfg.Refresh.Debounce.Std())
	}
	if cfg.Watcher.BufferSize != 256 {
		t.Errorf("Watcher.BufferSize = %d, want default 256", cfg.Watcher.BufferSize)
	}
	if cfg.Hooks.Filter != "filter.lua" {
		t.Errorf("Hooks.Filter = %q", cfg.Hooks.Filter)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "dirtyscope.yaml", `
roots:
  - /ws/app
logging:
  format: json
refresh:
  debounce: 50ms
vcs:
  nested: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if len(cfg.Roots) != 1 || cfg.Roots[0] != "/ws/app" {
		t.Errorf("Roots = %v", cfg.Roots)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Refresh.Debounce.Std() != 50*time.Millisecond {
		t.Errorf("Refresh.Debounce = %v, want 50ms", cfg.Refresh.Debounce.Std())
	}
	if cfg.VCS.Nested {
		t.Error("VCS.Nested should be false")
	}
}

func TestLoadParseErrors(t *testing.T) {
	tomlPath := writeFile(t, "bad.toml", "roots = [\n")
	_, err := Load(tomlPath)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if pe.Path != tomlPath || pe.Line == 0 {
		t.Errorf("ParseError = %+v, want path and line", pe)
	}

	yamlPath := writeFile(t, "bad.yaml", "roots: [\n")
	if _, err := Load(yamlPath); !errors.As(err, &pe) {
		t.Errorf("error = %v, want *ParseError", err)
	}

	iniPath := writeFile(t, "conf.ini", "x=1")
	if _, err := Load(iniPath); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TESTDS_ROOTS", "/a"+string(filepath.ListSeparator)+"/b")
	t.Setenv("TESTDS_LOG_LEVEL", "warn")
	t.Setenv("TESTDS_REFRESH_INTERVAL", "1m")
	t.Setenv("TESTDS_IGNORE_HIDDEN", "yes")
	t.Setenv("TESTDS_VCS_KINDS", "git, hg")
	t.Setenv("TESTDS_IGNORE", "*.o,bin/")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv("TESTDS_"); err != nil {
		t.Fatalf("ApplyEnv error = %v", err)
	}

	if len(cfg.Roots) != 2 || cfg.Roots[0] != "/a" {
		t.Errorf("Roots = %v", cfg.Roots)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Refresh.Interval.Std() != time.Minute {
		t.Errorf("Refresh.Interval = %v", cfg.Refresh.Interval.Std())
	}
	if !cfg.Watcher.IgnoreHidden {
		t.Error("IgnoreHidden should be true")
	}
	if len(cfg.VCS.Kinds) != 2 || cfg.VCS.Kinds[1] != "hg" {
		t.Errorf("VCS.Kinds = %v", cfg.VCS.Kinds)
	}
	if len(cfg.Watcher.Ignore) != 2 {
		t.Errorf("Watcher.Ignore = %v", cfg.Watcher.Ignore)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("TESTDS_REFRESH_DEBOUNCE", "soon")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv("TESTDS_"); err == nil {
		t.Error("invalid duration should error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"interval", func(c *Config) { c.Refresh.Interval = Duration(-time.Second) }, "refresh.interval"},
		{"kind", func(c *Config) { c.VCS.Kinds = []string{"cvs"} }, "vcs.kinds"},
		{"root", func(c *Config) { c.Roots = []string{" "} }, "roots[0]"},
		{"watches", func(c *Config) { c.Watcher.MaxWatches = -1 }, "watcher.max_watches"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
			if !errors.Is(err, ErrValidationFailed) {
				t.Error("should match ErrValidationFailed")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "c.toml", "[logging]\nlevel = \"debug\"\n")
	t.Setenv("TESTDS_LOG_LEVEL", "bogus")

	if _, err := LoadFile(path, "TESTDS_"); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("LoadFile error = %v, want validation failure", err)
	}
}

func TestLoggingOptions(t *testing.T) {
	opts, err := LoggingConfig{Level: "debug", Format: "json"}.Options()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Format != "json" || opts.Level.String() != "DEBUG" {
		t.Errorf("Options() = %+v", opts)
	}
}
