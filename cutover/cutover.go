// Package cutover owns the switch that points reads at the new schema
// shape. The flip must be instantaneous from the application's point of
// view: the orchestrator only toggles a flag the application consults,
// it never migrates reads incrementally.
package cutover

import "context"

// Switch flips the read path for a migration. Both operations are
// idempotent so the rollback compensator can over-apply them safely.
type Switch interface {
	// Flip points reads for the migration at the new shape.
	Flip(ctx context.Context, migration string) error

	// Revert points reads for the migration back at the old shape.
	Revert(ctx context.Context, migration string) error
}
