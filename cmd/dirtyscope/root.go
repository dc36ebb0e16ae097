package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/dirtyscope/internal/config"
	"github.com/dshills/dirtyscope/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "dirtyscope",
		Short: "Track which parts of version-controlled trees need a status refresh",
		Long: `dirtyscope watches workspace folders, records which files and
directories changed inside each VCS checkout, and periodically hands the
accumulated dirty scopes to a refresh step (git status by default).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a TOML or YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(
		newWatchCmd(&flags),
		newRootsCmd(&flags),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file, environment and flag overrides in that
// order of increasing precedence.
func loadConfig(flags *globalFlags, roots []string) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(config.DefaultEnvPrefix); err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if len(roots) > 0 {
		cfg.Roots = roots
	}
	if len(cfg.Roots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.Roots = []string{wd}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger on stderr.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	opts, err := cfg.Logging.Options()
	if err != nil {
		return nil, err
	}
	opts.Output = os.Stderr
	return logging.New(opts), nil
}
