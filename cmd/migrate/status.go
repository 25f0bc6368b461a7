package main

import (
	"fmt"

	"github.com/getpup/migrate-orchestrator/config"
	"github.com/spf13/cobra"
)

func newStatusCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run's phase history, or list unfinished runs",
		Long: "With a run ID, prints the run's current phase and full record history.\n" +
			"Without one, lists every run that has not reached a terminal phase —\n" +
			"including runs interrupted by a crash, which require an explicit\n" +
			"operator rollback or resume decision.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("%w: usage: migrate status [run-id]", errUsage)
			}
			return nil
		},
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

			out := cmd.OutOrStdout()

			if len(args) == 0 {
				unfinished, err := app.engine.Unfinished(cmd.Context())
				if err != nil {
					return err
				}
				if len(unfinished) == 0 {
					fmt.Fprintln(out, "no unfinished runs")
					return nil
				}
				for _, run := range unfinished {
					marker := ""
					if run.Interrupted() {
						marker = "  [interrupted: rollback or resume required]"
					}
					fmt.Fprintf(out, "%s  %s  %s/%s%s\n",
						run.RunID, run.Migration, run.CurrentPhase, run.CurrentStatus, marker)
				}
				return nil
			}

			run, records, err := app.engine.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printHistory(out, run, records)
			return nil
		},
	}
}
