// Package engine drives a migration run through its six forward phases
// in strict order. Each phase is bracketed by in_progress and
// completed/failed ledger records; any failure routes through the
// rollback compensator before surfacing. There is no skipping and no
// rewinding: recovery always goes through rollback, and an interrupted
// run is surfaced to the operator rather than auto-resumed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/backfill"
	"github.com/getpup/migrate-orchestrator/cutover"
	"github.com/getpup/migrate-orchestrator/descriptor"
	"github.com/getpup/migrate-orchestrator/executor"
	"github.com/getpup/migrate-orchestrator/ledger"
	"github.com/getpup/migrate-orchestrator/lock"
	"github.com/getpup/migrate-orchestrator/metrics"
	"github.com/getpup/migrate-orchestrator/preflight"
	"github.com/getpup/migrate-orchestrator/validation"
	"github.com/google/uuid"
)

// PreflightChecker runs the gate checks before any database mutation.
// Satisfied by *preflight.Checker.
type PreflightChecker interface {
	Check(ctx context.Context, allowHighLoad bool) (preflight.Report, error)
}

// DualWriter activates and deactivates dual-write mechanisms.
// Satisfied by *dualwrite.Manager.
type DualWriter interface {
	Enable(ctx context.Context, desc *descriptor.Descriptor) error
	Disable(ctx context.Context, migration string) error
	ActiveCount(ctx context.Context, migration string) (int, error)
}

// Compensator undoes a failed run. Satisfied by *rollback.Compensator.
type Compensator interface {
	Rollback(ctx context.Context, runID string, failedPhase migrate.Phase, reason string) error
	RollbackFromLedger(ctx context.Context, runID string) error
}

// Config holds configuration for the Engine.
type Config struct {
	// Ledger persists phase records (required).
	Ledger ledger.Ledger

	// Descriptors resolves migration artifact sets (required).
	Descriptors *descriptor.Loader

	// Locker prevents concurrent runs of the same migration (required).
	Locker lock.Locker

	// Preflight runs the pre-mutation gate checks (required).
	Preflight PreflightChecker

	// DualWrite manages dual-write mechanisms (required).
	DualWrite DualWriter

	// Backfill owns backfill job lifecycle (required).
	Backfill *backfill.Monitor

	// Validation gates cutover (required).
	Validation *validation.Gate

	// Rollback undoes failed runs (required).
	Rollback Compensator

	// Cutover flips the read path (required).
	Cutover cutover.Switch

	// Runner executes the up and cleanup artifacts (required).
	Runner executor.Runner

	// BackfillTimeout bounds the backfill job unless the migration's
	// manifest overrides it (default: 30m).
	BackfillTimeout time.Duration

	// CleanupDwell is the observation window between cutover and
	// cleanup unless the manifest overrides it (default: 15m).
	CleanupDwell time.Duration

	// MetricsEnabled enables Prometheus metrics collection (default: true).
	// Set to false explicitly to disable metrics.
	MetricsEnabled *bool

	// Logger is for observability (optional).
	Logger migrate.Logger
}

// RunOptions are per-invocation operator choices.
type RunOptions struct {
	// AllowHighLoad overrides the soft load gate with explicit operator
	// confirmation.
	AllowHighLoad bool

	// RollbackOnError controls whether a phase failure triggers
	// automatic rollback (default: true). When false the run terminates
	// in failed with the failing phase recorded, and a manual
	// `migrate rollback` can still move it to rolled_back later.
	RollbackOnError *bool
}

// Plan is the dry-run view of what a run would do. Producing it causes
// no state change: no lock, no ledger record, no database mutation.
type Plan struct {
	// Migration is the migration name.
	Migration string

	// Artifacts maps artifact name to resolved path.
	Artifacts map[string]string

	// Phases is the order the run would execute.
	Phases []migrate.Phase

	// BackfillTimeout is the effective backfill budget.
	BackfillTimeout time.Duration

	// CleanupDwell is the effective observation window.
	CleanupDwell time.Duration

	// Preflight is the current gate check report.
	Preflight preflight.Report
}

// Engine is the phase state machine.
type Engine struct {
	config Config
}

// New creates a new Engine with the given configuration.
// Applies default values for all duration fields if zero.
func New(cfg Config) *Engine {
	if cfg.BackfillTimeout == 0 {
		cfg.BackfillTimeout = 30 * time.Minute
	}
	if cfg.CleanupDwell == 0 {
		cfg.CleanupDwell = 15 * time.Minute
	}
	return &Engine{config: cfg}
}

// step is one forward phase and the work it performs. run returns the
// details text recorded on completion.
type step struct {
	phase migrate.Phase
	run   func(ctx context.Context) (string, error)
}

// newRunID generates a time-prefixed run identifier; the uuid suffix
// avoids collision when two runs start in the same second.
func newRunID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102t150405"), uuid.NewString()[:8])
}

// Run executes a migration from preflight through cleanup and returns
// the run's terminal state. The descriptor is validated and the
// advisory lock acquired before the first ledger record, so a malformed
// migration or a contended lock never starts a partial run.
func (e *Engine) Run(ctx context.Context, migrationName string, opts RunOptions) (migrate.MigrationRun, error) {
	desc, err := e.config.Descriptors.Load(migrationName)
	if err != nil {
		return migrate.MigrationRun{}, err
	}

	release, err := e.config.Locker.Acquire(ctx, migrationName)
	if err != nil {
		return migrate.MigrationRun{}, fmt.Errorf("migration %s: %w", migrationName, err)
	}
	defer func() {
		if err := release(); err != nil && e.config.Logger != nil {
			e.config.Logger.Error(ctx, "failed to release migration lock", "migration", migrationName, "error", err)
		}
	}()

	runID := newRunID()
	ctx = executor.ContextWithRunID(ctx, runID)

	var collector *metrics.Collector
	if e.config.MetricsEnabled == nil || *e.config.MetricsEnabled {
		collector = metrics.NewCollector(migrationName)
	}

	rollbackOnError := true
	if opts.RollbackOnError != nil {
		rollbackOnError = *opts.RollbackOnError
	}

	backfillTimeout := desc.BackfillTimeout(e.config.BackfillTimeout)
	cleanupDwell := desc.CleanupDwell(e.config.CleanupDwell)

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "migration run starting",
			"runID", runID, "migration", migrationName,
			"backfillTimeout", backfillTimeout, "cleanupDwell", cleanupDwell)
	}

	steps := []step{
		{migrate.PhasePreflight, func(ctx context.Context) (string, error) {
			report, err := e.config.Preflight.Check(ctx, opts.AllowHighLoad)
			return report.Summary(), err
		}},
		{migrate.PhaseShadowSchema, func(ctx context.Context) (string, error) {
			if _, err := e.config.Runner.Run(ctx, desc.Artifact(descriptor.ArtifactUp)); err != nil {
				return "", err
			}
			detail := "additive schema applied"
			if desc.Manifest.Risk == descriptor.RiskHigh {
				detail += "; high-risk migration: review before any manual object removal"
			}
			return detail, nil
		}},
		{migrate.PhaseDualWrite, func(ctx context.Context) (string, error) {
			if err := e.config.DualWrite.Enable(ctx, desc); err != nil {
				return "", err
			}
			count, err := e.config.DualWrite.ActiveCount(ctx, migrationName)
			if err != nil {
				return "", fmt.Errorf("failed to count dual-write mechanisms: %w", err)
			}
			if collector != nil {
				collector.SetDualWriteTriggers(count)
			}
			return fmt.Sprintf("%d dual-write mechanisms active", count), nil
		}},
		{migrate.PhaseBackfill, func(ctx context.Context) (string, error) {
			job := e.config.Backfill.Start(ctx, runID, desc, backfillTimeout)
			if collector != nil {
				// The gauge gets the last sampled value, so the deferred
				// read must happen when the phase exits, not now.
				defer func() { collector.SetBackfillProgress(job.Progress()) }()
			}
			if err := e.config.Backfill.Await(ctx, job); err != nil {
				return "", err
			}
			return fmt.Sprintf("backfill completed in %s", time.Since(job.StartedAt).Round(time.Second)), nil
		}},
		{migrate.PhaseValidation, func(ctx context.Context) (string, error) {
			report, err := e.config.Validation.Validate(ctx, desc)
			if err != nil && collector != nil && errors.Is(err, migrate.ErrValidationFailed) {
				collector.IncValidationFailure()
			}
			return report.Summary(), err
		}},
		{migrate.PhaseCutover, func(ctx context.Context) (string, error) {
			return "read path flipped to new shape", e.config.Cutover.Flip(ctx, migrationName)
		}},
		{migrate.PhaseCleanup, func(ctx context.Context) (string, error) {
			if err := e.dwell(ctx, cleanupDwell); err != nil {
				return "", err
			}
			if err := e.config.DualWrite.Disable(ctx, migrationName); err != nil {
				return "", err
			}
			if collector != nil {
				collector.SetDualWriteTriggers(0)
			}
			if _, err := e.config.Runner.Run(ctx, desc.Artifact(descriptor.ArtifactCleanup)); err != nil {
				return "", err
			}
			return fmt.Sprintf("observed %s dwell; dual-write removed; old-shape objects marked for delayed removal", cleanupDwell), nil
		}},
	}

	for _, s := range steps {
		if err := e.executePhase(ctx, collector, runID, migrationName, s, rollbackOnError); err != nil {
			return e.finalState(ctx, runID, err)
		}
	}

	if _, err := e.append(ctx, collector, runID, migrationName,
		migrate.PhaseCompleted, migrate.StatusCompleted, "migration completed"); err != nil {
		return e.finalState(ctx, runID, fmt.Errorf("failed to record completion: %w", err))
	}
	if collector != nil {
		collector.IncRunFinished(string(migrate.PhaseCompleted))
	}

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "migration run completed", "runID", runID, "migration", migrationName)
	}
	return e.finalState(ctx, runID, nil)
}

// DryRun resolves the descriptor and runs the read-only preflight
// checks without acquiring the lock or writing any ledger record.
func (e *Engine) DryRun(ctx context.Context, migrationName string, opts RunOptions) (Plan, error) {
	desc, err := e.config.Descriptors.Load(migrationName)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Migration:       migrationName,
		Artifacts:       desc.Artifacts,
		Phases:          migrate.ForwardPhases,
		BackfillTimeout: desc.BackfillTimeout(e.config.BackfillTimeout),
		CleanupDwell:    desc.CleanupDwell(e.config.CleanupDwell),
	}

	report, err := e.config.Preflight.Check(ctx, opts.AllowHighLoad)
	plan.Preflight = report
	if err != nil {
		return plan, err
	}
	return plan, nil
}

// Status returns the replayed state and full record history for a run.
func (e *Engine) Status(ctx context.Context, runID string) (migrate.MigrationRun, []migrate.PhaseRecord, error) {
	history, err := e.config.Ledger.History(ctx, runID)
	if err != nil {
		return migrate.MigrationRun{}, nil, err
	}
	run, _ := migrate.ReplayRecords(history)
	return run, history, nil
}

// Unfinished returns every run whose replayed state is not terminal.
// This is the crash-recovery surface: a run whose latest record is
// in_progress was interrupted and needs explicit operator action.
func (e *Engine) Unfinished(ctx context.Context) ([]migrate.MigrationRun, error) {
	return e.config.Ledger.Unfinished(ctx)
}

// Rollback manually invokes the compensator for a run stuck in a
// non-terminal state, deriving the failing phase from the ledger.
func (e *Engine) Rollback(ctx context.Context, runID string) error {
	return e.config.Rollback.RollbackFromLedger(ctx, runID)
}

// executePhase brackets one phase's work with in_progress and
// completed/failed records. On failure it routes through the
// compensator (unless rollback-on-error is disabled) and returns a
// PhaseExecutionError.
func (e *Engine) executePhase(ctx context.Context, collector *metrics.Collector, runID, migration string, s step, rollbackOnError bool) error {
	if _, err := e.append(ctx, collector, runID, migration, s.phase, migrate.StatusInProgress, ""); err != nil {
		return fmt.Errorf("failed to record %s start: %w", s.phase, err)
	}

	start := time.Now()
	detail, err := s.run(ctx)
	if collector != nil {
		collector.ObservePhaseDuration(string(s.phase), time.Since(start).Seconds())
	}

	if err != nil {
		return e.fail(ctx, collector, runID, migration, s.phase, detail, err, rollbackOnError)
	}

	if _, err := e.append(ctx, collector, runID, migration, s.phase, migrate.StatusCompleted, detail); err != nil {
		return fmt.Errorf("failed to record %s completion: %w", s.phase, err)
	}

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "phase completed", "runID", runID, "phase", s.phase)
	}
	return nil
}

// fail records the phase failure and terminates the run through the
// compensator. The failed record and the rollback must land even when
// the failure is the operator cancelling the run, so the parent
// context's cancellation is stripped first.
func (e *Engine) fail(ctx context.Context, collector *metrics.Collector, runID, migration string, phase migrate.Phase, detail string, cause error, rollbackOnError bool) error {
	ctx = context.WithoutCancel(ctx)

	failDetails := cause.Error()
	if detail != "" {
		failDetails = fmt.Sprintf("%v (%s)", cause, detail)
	}
	if _, err := e.append(ctx, collector, runID, migration, phase, migrate.StatusFailed, failDetails); err != nil {
		cause = errors.Join(cause, err)
	}

	if e.config.Logger != nil {
		e.config.Logger.Error(ctx, "phase failed",
			"runID", runID, "migration", migration, "phase", phase, "error", cause)
	}

	phaseErr := &migrate.PhaseExecutionError{Phase: phase, Err: cause}

	if !rollbackOnError {
		if _, err := e.append(ctx, collector, runID, migration, migrate.PhaseFailed, migrate.StatusFailed,
			"rollback-on-error disabled; run left for manual rollback"); err != nil && e.config.Logger != nil {
			e.config.Logger.Error(ctx, "failed to record terminal state", "runID", runID, "error", err)
		}
		if collector != nil {
			collector.IncRunFinished(string(migrate.PhaseFailed))
		}
		return phaseErr
	}

	if err := e.config.Rollback.Rollback(ctx, runID, phase, cause.Error()); err != nil {
		if collector != nil {
			collector.IncRunFinished(string(migrate.PhaseFailed))
		}
		return errors.Join(phaseErr, err)
	}

	if collector != nil {
		// Rollback removed whatever dual-write mechanisms existed.
		collector.SetDualWriteTriggers(0)
		collector.IncRollback()
		collector.IncRunFinished(string(migrate.PhaseRolledBack))
	}
	return phaseErr
}

// dwell waits out the observation window between cutover and cleanup.
func (e *Engine) dwell(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "observing dwell before cleanup", "dwell", d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// append writes one ledger record and counts the transition.
func (e *Engine) append(ctx context.Context, collector *metrics.Collector, runID, migration string, phase migrate.Phase, status migrate.PhaseStatus, details string) (migrate.PhaseRecord, error) {
	rec, err := e.config.Ledger.Append(ctx, runID, migration, phase, status, details)
	if err != nil {
		return rec, err
	}
	if collector != nil {
		collector.IncPhaseTransition(string(phase), string(status))
	}
	if e.config.Logger != nil {
		e.config.Logger.Debug(ctx, "phase record appended",
			"runID", runID, "phase", phase, "status", status, "seq", rec.Seq)
	}
	return rec, nil
}

// finalState replays the run's ledger state for the caller. cause is
// passed through so the operator sees both the terminal state and the
// error that produced it.
func (e *Engine) finalState(ctx context.Context, runID string, cause error) (migrate.MigrationRun, error) {
	run, err := e.config.Ledger.CurrentState(context.WithoutCancel(ctx), runID)
	if err != nil {
		if cause != nil {
			return migrate.MigrationRun{}, cause
		}
		return migrate.MigrationRun{}, fmt.Errorf("failed to load final run state: %w", err)
	}
	return run, cause
}
