package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/backfill"
	"github.com/getpup/migrate-orchestrator/config"
	"github.com/getpup/migrate-orchestrator/cutover"
	"github.com/getpup/migrate-orchestrator/descriptor"
	"github.com/getpup/migrate-orchestrator/dualwrite"
	"github.com/getpup/migrate-orchestrator/engine"
	"github.com/getpup/migrate-orchestrator/executor"
	"github.com/getpup/migrate-orchestrator/ledger"
	ledgermysql "github.com/getpup/migrate-orchestrator/ledger/mysql"
	ledgerpostgres "github.com/getpup/migrate-orchestrator/ledger/postgres"
	ledgersqlite "github.com/getpup/migrate-orchestrator/ledger/sqlite"
	"github.com/getpup/migrate-orchestrator/lock"
	"github.com/getpup/migrate-orchestrator/logging"
	"github.com/getpup/migrate-orchestrator/metrics"
	"github.com/getpup/migrate-orchestrator/preflight"
	"github.com/getpup/migrate-orchestrator/rollback"
	"github.com/getpup/migrate-orchestrator/validation"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// errUsage marks invalid invocations so main can exit with code 2.
var errUsage = errors.New("invalid invocation")

func newRootCmd() *cobra.Command {
	var configFile string
	var verbose bool

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Zero-downtime schema migration orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (settings also read from MIGRATE_* environment)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	loadConfig := func() (config.Config, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return config.Config{}, err
		}
		if verbose {
			cfg.Verbose = true
		}
		if err := cfg.Validate(); err != nil {
			return config.Config{}, fmt.Errorf("%w: %v", errUsage, err)
		}
		return cfg, nil
	}

	root.AddCommand(newRunCmd(loadConfig))
	root.AddCommand(newStatusCmd(loadConfig))
	root.AddCommand(newRollbackCmd(loadConfig))
	return root
}

// exactArgs wraps cobra's argument validation so bad invocations map to
// exit code 2.
func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: usage: %s", errUsage, usage)
		}
		return nil
	}
}

// app is the fully wired orchestrator plus the resources behind it.
type app struct {
	cfg     config.Config
	logger  migrate.Logger
	engine  *engine.Engine
	metrics *metrics.Server
	closers []func() error
}

// buildApp opens the database and ledger and wires every component.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := logging.NewConsole(cfg.Verbose)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", config.Redact(cfg.DatabaseURL), err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, db.Close)

	led, closeLedger, err := openLedger(ctx, cfg, db)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if closeLedger != nil {
		a.closers = append(a.closers, closeLedger)
	}

	runner := executor.New(executor.Config{
		DatabaseURL:      cfg.DatabaseURL,
		RedisAddr:        cfg.RedisAddr,
		StatementTimeout: cfg.StatementTimeout,
		Logger:           logger,
	})

	var progress backfill.ProgressReader
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		progress = backfill.NewRedisProgress(client)
	}

	loader := descriptor.NewLoader(cfg.MigrationsDir)
	dw := dualwrite.New(dualwrite.Config{
		Runner:  runner,
		Catalog: dualwrite.NewPGCatalog(db),
		Logger:  logger,
	})
	sw := cutover.NewFlagStore(db, "")

	a.engine = engine.New(engine.Config{
		Ledger:      led,
		Descriptors: loader,
		Locker:      lock.NewPostgresLocker(db),
		Preflight: preflight.New(preflight.Config{
			DB:                   db,
			MaxActiveConnections: cfg.MaxActiveConnections,
			MinFreeDiskPercent:   cfg.MinFreeDiskPercent,
			DataPath:             cfg.DataPath,
			Logger:               logger,
		}),
		DualWrite: dw,
		Backfill: backfill.New(backfill.Config{
			Runner:       runner,
			Progress:     progress,
			Ledger:       led,
			PollInterval: cfg.PollInterval,
			Logger:       logger,
		}),
		Validation: validation.New(validation.Config{Runner: runner, Logger: logger}),
		Rollback: rollback.New(rollback.Config{
			Ledger:      led,
			Descriptors: loader,
			DualWrite:   dw,
			Runner:      runner,
			Cutover:     sw,
			Logger:      logger,
		}),
		Cutover:         sw,
		Runner:          runner,
		BackfillTimeout: cfg.BackfillTimeout,
		CleanupDwell:    cfg.CleanupDwell,
		Logger:          logger,
	})

	if cfg.MetricsAddr != "" {
		a.metrics = metrics.NewServer(cfg.MetricsAddr, logger)
		a.metrics.Start()
	}

	return a, nil
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() error {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metrics.Shutdown(ctx)
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openLedger(ctx context.Context, cfg config.Config, db *sql.DB) (ledger.Ledger, func() error, error) {
	switch cfg.LedgerDriver {
	case "postgres":
		if cfg.LedgerDSN == cfg.DatabaseURL {
			return ledgerpostgres.New(db), nil, nil
		}
		ledgerDB, err := sql.Open("postgres", cfg.LedgerDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open ledger database %s: %w", config.Redact(cfg.LedgerDSN), err)
		}
		return ledgerpostgres.New(ledgerDB), ledgerDB.Close, nil

	case "sqlite":
		store, err := ledgersqlite.Open(cfg.LedgerDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite ledger %s: %w", cfg.LedgerDSN, err)
		}
		return store, store.Close, nil

	case "mysql":
		ledgerDB, err := sql.Open("mysql", cfg.LedgerDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open mysql ledger %s: %w", config.Redact(cfg.LedgerDSN), err)
		}
		store := ledgermysql.New(ledgerDB)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = ledgerDB.Close()
			return nil, nil, fmt.Errorf("failed to prepare mysql ledger schema: %w", err)
		}
		return store, ledgerDB.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown ledger driver %q", errUsage, cfg.LedgerDriver)
	}
}

// printHistory renders a run's full record history, which is the
// operator's diagnostic surface on every failure.
func printHistory(w io.Writer, run migrate.MigrationRun, records []migrate.PhaseRecord) {
	fmt.Fprintf(w, "run %s  migration %s  phase %s (%s)\n",
		run.RunID, run.Migration, run.CurrentPhase, run.CurrentStatus)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tRECORDED\tPHASE\tSTATUS\tDETAILS")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			r.Seq, r.RecordedAt.Format(time.RFC3339), r.Phase, r.Status, r.Details)
	}
	_ = tw.Flush()
}
