package main

import (
	"fmt"

	"github.com/getpup/migrate-orchestrator/config"
	"github.com/spf13/cobra"
)

func newRollbackCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <run-id>",
		Short: "Manually roll back a run stuck in a non-terminal state",
		Args:  exactArgs(1, "migrate rollback <run-id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if err := app.engine.Rollback(cmd.Context(), args[0]); err != nil {
				return err
			}

			run, records, err := app.engine.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), run, records)
			fmt.Fprintf(cmd.OutOrStdout(), "run %s rolled back\n", args[0])
			return nil
		},
	}
}
