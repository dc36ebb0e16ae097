package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/dirtyscope/internal/session"
)

func newRootsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "roots [dirs...]",
		Short: "List the VCS checkouts that would be tracked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, args)
			if err != nil {
				return err
			}

			registry, err := session.Discover(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, o := range registry.Owners() {
				fmt.Fprintf(out, "%-4s %s\n", o.Kind, o.Root.OS())
			}
			return nil
		},
	}
}
