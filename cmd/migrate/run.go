package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/getpup/migrate-orchestrator/config"
	"github.com/getpup/migrate-orchestrator/engine"
	"github.com/spf13/cobra"
)

func newRunCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var dryRun bool
	var rollbackOnError bool
	var allowHighLoad bool

	cmd := &cobra.Command{
		Use:   "run <migration-name>",
		Short: "Execute a migration through all phases",
		Args:  exactArgs(1, "migrate run <migration-name>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if dryRun {
				return runDry(ctx, cmd, app, args[0], allowHighLoad)
			}

			opts := engine.RunOptions{
				AllowHighLoad:   allowHighLoad,
				RollbackOnError: &rollbackOnError,
			}
			run, err := app.engine.Run(ctx, args[0], opts)
			if err != nil {
				// The full history is the diagnostic surface; print it
				// before surfacing the failure.
				if run.RunID != "" {
					if state, records, serr := app.engine.Status(context.WithoutCancel(ctx), run.RunID); serr == nil {
						printHistory(cmd.OutOrStdout(), state, records)
					}
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "migration %s completed (run %s)\n", args[0], run.RunID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the descriptor and run preflight checks without changing anything")
	cmd.Flags().BoolVar(&rollbackOnError, "rollback-on-error", true, "automatically roll back on phase failure")
	cmd.Flags().BoolVar(&allowHighLoad, "allow-high-load", false, "override the soft load gate with operator confirmation")
	return cmd
}

func runDry(ctx context.Context, cmd *cobra.Command, app *app, migration string, allowHighLoad bool) error {
	plan, err := app.engine.DryRun(ctx, migration, engine.RunOptions{AllowHighLoad: allowHighLoad})
	if err != nil {
		printPlan(cmd, plan)
		return err
	}
	printPlan(cmd, plan)
	fmt.Fprintln(cmd.OutOrStdout(), "dry run: no state was changed")
	return nil
}

func printPlan(cmd *cobra.Command, plan engine.Plan) {
	out := cmd.OutOrStdout()
	if plan.Migration == "" {
		return
	}
	fmt.Fprintf(out, "migration %s\n", plan.Migration)
	fmt.Fprintf(out, "  backfill timeout: %s\n", plan.BackfillTimeout)
	fmt.Fprintf(out, "  cleanup dwell:    %s\n", plan.CleanupDwell)
	fmt.Fprint(out, "  phases:          ")
	for _, p := range plan.Phases {
		fmt.Fprintf(out, " %s", p)
	}
	fmt.Fprintln(out)
	for _, check := range plan.Preflight.Checks {
		status := "ok"
		if !check.Passed {
			status = "REJECTED"
		}
		fmt.Fprintf(out, "  preflight %-12s %s (%s)\n", check.Name+":", status, check.Detail)
	}
}
