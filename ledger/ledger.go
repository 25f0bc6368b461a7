// Package ledger defines the durable, append-only record of phase
// transitions for migration runs. The ledger is the recovery substrate:
// a run's current state is always derived by replaying its records, so
// a crashed orchestrator can report exactly where a run stopped.
package ledger

import (
	"context"

	migrate "github.com/getpup/migrate-orchestrator"
)

// Ledger provides persistence for phase records.
// Implementations must make Append synchronously durable: once Append
// returns, the record survives a process crash. Records for a run are
// strictly ordered (single writer per run) and never mutated.
type Ledger interface {
	// Append writes one phase record for a run and returns it with its
	// assigned sequence number and timestamp.
	Append(ctx context.Context, runID, migration string, phase migrate.Phase, status migrate.PhaseStatus, details string) (migrate.PhaseRecord, error)

	// History returns the ordered phase records for a run.
	// Returns ErrRunNotFound if the run has no records.
	History(ctx context.Context, runID string) ([]migrate.PhaseRecord, error)

	// CurrentState reconstructs a run by replaying its records.
	// Returns ErrRunNotFound if the run has no records.
	CurrentState(ctx context.Context, runID string) (migrate.MigrationRun, error)

	// Unfinished returns every run whose replayed state is not terminal,
	// so interrupted runs can be surfaced to the operator on restart.
	// Returns an empty slice if all runs are terminal.
	Unfinished(ctx context.Context) ([]migrate.MigrationRun, error)
}
