package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dshills/dirtyscope/internal/dirty"
	"github.com/dshills/dirtyscope/internal/refresh"
	"github.com/dshills/dirtyscope/internal/session"
	"github.com/dshills/dirtyscope/internal/vcs"
)

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var noStatus bool

	cmd := &cobra.Command{
		Use:   "watch [roots...]",
		Short: "Watch roots and refresh dirty scopes until interrupted",
		Long: `The watch command tracks every checkout at or below the given roots
(default: the configured roots, or the current directory). Each refresh
cycle logs the dirty scopes and, for git checkouts, the recomputed status.

Example:
  dirtyscope watch ~/src/app
  dirtyscope watch --config dirtyscope.toml --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, args)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			opts := session.Options{
				Logger:    logger,
				GitStatus: !noStatus,
				OnStatus: func(scope dirty.Scope, files []vcs.FileStatus) {
					for _, f := range files {
						logger.Info("status",
							slog.String("owner", scope.Owner.String()),
							slog.String("path", f.Path),
							slog.String("status", f.Status.String()),
							slog.Bool("staged", f.Staged))
					}
				},
			}

			ctx := cmd.Context()
			s, err := session.Open(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			s.Updater().OnCycle(func(c refresh.Cycle) {
				for _, scope := range c.Invalidated.Scopes {
					logger.Debug("dirty scope",
						slog.String("cycle", c.ID.String()),
						slog.String("owner", scope.Owner.String()),
						slog.Bool("everything", scope.Everything),
						slog.Int("files", len(scope.Files)),
						slog.Int("dirs", len(scope.Dirs)))
				}
			})

			err = s.Run(ctx)
			st := s.Stats()
			logger.Info("session stats",
				slog.Int64("marked", st.Tracker.Marked),
				slog.Int64("events", st.Feeder.Events),
				slog.Int64("overflows", st.Feeder.Overflows),
				slog.Int64("cycles", st.Refresh.Cycles),
				slog.Int64("failures", st.Refresh.Failures))
			return err
		},
	}

	cmd.Flags().BoolVar(&noStatus, "no-status", false, "Do not run git status on dirty scopes")
	return cmd
}
