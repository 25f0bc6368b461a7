// Package rollback applies the minimal undo actions returning a failed
// run to its last known-good state.
//
// Removal policy: additive shadow-schema objects are never dropped by
// the orchestrator. The compensator disables dual-write mechanisms and
// executes the migration's down artifact, which is the migration
// author's contract for reverting application-visible state (views,
// flags, cutover switches). Physical removal of shadow objects is
// always a deliberate manual step.
package rollback

import (
	"context"
	"errors"
	"fmt"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/cutover"
	"github.com/getpup/migrate-orchestrator/descriptor"
	"github.com/getpup/migrate-orchestrator/executor"
	"github.com/getpup/migrate-orchestrator/ledger"
)

// DualWriteDisabler removes a migration's dual-write mechanisms.
// Satisfied by *dualwrite.Manager.
type DualWriteDisabler interface {
	Disable(ctx context.Context, migration string) error
}

// Config holds configuration for the Compensator.
type Config struct {
	// Ledger records the terminal outcome (required).
	Ledger ledger.Ledger

	// Descriptors resolves the down artifact (required).
	Descriptors *descriptor.Loader

	// DualWrite disables dual-write mechanisms (required).
	DualWrite DualWriteDisabler

	// Runner executes the down artifact (required).
	Runner executor.Runner

	// Cutover reverts the read path when the run had reached cutover
	// (optional).
	Cutover cutover.Switch

	// Logger is for observability (optional).
	Logger migrate.Logger
}

// Compensator applies phase-appropriate undo actions.
type Compensator struct {
	config Config
}

// New creates a new Compensator with the given configuration.
func New(cfg Config) *Compensator {
	return &Compensator{config: cfg}
}

// Rollback undoes a run that failed in failedPhase and writes the
// terminal record. It is idempotent: a run already rolled back is a
// no-op with no additional ledger effect. If any undo action fails,
// the run is terminated in the failed phase and the returned error
// wraps migrate.ErrRollbackFailed.
func (c *Compensator) Rollback(ctx context.Context, runID string, failedPhase migrate.Phase, reason string) error {
	state, err := c.config.Ledger.CurrentState(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run state: %w", err)
	}

	if state.CurrentPhase == migrate.PhaseRolledBack {
		return nil
	}
	if state.CurrentPhase == migrate.PhaseCompleted {
		return fmt.Errorf("run %s: %w", runID, migrate.ErrRunTerminal)
	}

	if err := c.undo(ctx, state.Migration, failedPhase); err != nil {
		details := fmt.Sprintf("rollback of %s failed: %v (manual intervention required)", failedPhase, err)
		if _, appendErr := c.config.Ledger.Append(ctx, runID, state.Migration,
			migrate.PhaseFailed, migrate.StatusFailed, details); appendErr != nil {
			err = errors.Join(err, appendErr)
		}
		if c.config.Logger != nil {
			c.config.Logger.Error(ctx, "rollback failed, run requires manual intervention",
				"runID", runID, "failedPhase", failedPhase, "error", err)
		}
		return fmt.Errorf("%w: %v", migrate.ErrRollbackFailed, err)
	}

	details := fmt.Sprintf("rolled back after %s failure", failedPhase)
	if reason != "" {
		details = fmt.Sprintf("%s: %s", details, reason)
	}
	if _, err := c.config.Ledger.Append(ctx, runID, state.Migration,
		migrate.PhaseRolledBack, migrate.StatusCompleted, details); err != nil {
		return fmt.Errorf("%w: failed to record terminal state: %v", migrate.ErrRollbackFailed, err)
	}

	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "run rolled back",
			"runID", runID, "migration", state.Migration, "failedPhase", failedPhase)
	}
	return nil
}

// RollbackFromLedger rolls back a run using its recorded state to pick
// the failing phase. Used by the operator CLI for runs stuck after a
// crash. A run already rolled back is a no-op; a completed run is
// rejected with migrate.ErrRunTerminal.
func (c *Compensator) RollbackFromLedger(ctx context.Context, runID string) error {
	state, err := c.config.Ledger.CurrentState(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run state: %w", err)
	}

	if state.CurrentPhase == migrate.PhaseRolledBack {
		return nil
	}
	if state.CurrentPhase == migrate.PhaseCompleted {
		return fmt.Errorf("run %s: %w", runID, migrate.ErrRunTerminal)
	}

	phase := state.CurrentPhase
	if !phase.IsForward() {
		// A run left in the failed phase still carries the record of the
		// forward phase that broke it; undo only what actually executed.
		history, err := c.config.Ledger.History(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load run history: %w", err)
		}
		phase = lastForwardPhase(history)
	}
	return c.Rollback(ctx, runID, phase, "operator-requested rollback")
}

// lastForwardPhase returns the furthest forward phase the run recorded.
// A history with no forward record rolls back from the far end; every
// undo action is idempotent, so over-applying is safe.
func lastForwardPhase(history []migrate.PhaseRecord) migrate.Phase {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Phase.IsForward() {
			return history[i].Phase
		}
	}
	return migrate.PhaseCleanup
}

// undo applies the undo actions appropriate for the failing phase.
// Ordering matters: reads are pointed back at the old shape first, then
// dual-write mechanisms are removed (they reference shadow objects) and
// only then does the down artifact run.
func (c *Compensator) undo(ctx context.Context, migration string, failedPhase migrate.Phase) error {
	if failedPhase.AtOrAfter(migrate.PhaseCutover) && c.config.Cutover != nil {
		if err := c.config.Cutover.Revert(ctx, migration); err != nil {
			return fmt.Errorf("failed to revert read path: %w", err)
		}
	}

	if failedPhase.AtOrAfter(migrate.PhaseDualWrite) {
		if err := c.config.DualWrite.Disable(ctx, migration); err != nil {
			return fmt.Errorf("failed to disable dual-write: %w", err)
		}
	}

	if failedPhase.AtOrAfter(migrate.PhaseShadowSchema) {
		desc, err := c.config.Descriptors.Load(migration)
		if err != nil {
			return fmt.Errorf("failed to load descriptor for rollback: %w", err)
		}
		if _, err := c.config.Runner.Run(ctx, desc.Artifact(descriptor.ArtifactDown)); err != nil {
			return fmt.Errorf("down artifact failed: %w", err)
		}
	}

	return nil
}
