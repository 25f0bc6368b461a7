package migrate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPreflightRejected indicates a preflight gate rejected the run.
	// The load-threshold gate is soft and may be overridden by explicit
	// operator confirmation; the others are hard failures.
	ErrPreflightRejected = errors.New("preflight rejected")

	// ErrLockContention indicates another run already holds the advisory
	// lock for this migration. The run fails immediately and must not
	// write any phase record.
	ErrLockContention = errors.New("migration lock already held")

	// ErrValidationFailed indicates the validation gate found a FAIL
	// marker in its report. Never downgraded to a warning.
	ErrValidationFailed = errors.New("validation failed")

	// ErrBackfillTimeout indicates the backfill job exceeded its
	// wall-clock timeout. Treated as a phase execution failure.
	ErrBackfillTimeout = errors.New("backfill timed out")

	// ErrRollbackFailed indicates the rollback compensator itself failed.
	// The run terminates in the failed phase and requires manual
	// operator intervention.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrRunTerminal indicates an operation was requested against a run
	// that already reached completed.
	ErrRunTerminal = errors.New("run already terminal")

	// ErrDualWriteInactive indicates dual-write enablement reported
	// success but installed zero mechanisms.
	ErrDualWriteInactive = errors.New("dual-write enabled but no mechanisms active")
)

// DescriptorIncompleteError is returned when a migration's artifact set
// is missing one or more required artifacts. It is always raised before
// any phase record is written, so a malformed migration never starts a
// partial run.
type DescriptorIncompleteError struct {
	// Migration is the migration name that failed to load.
	Migration string

	// Missing lists the required artifact names that were not found.
	Missing []string
}

func (e *DescriptorIncompleteError) Error() string {
	return fmt.Sprintf("migration %q descriptor incomplete: missing %s",
		e.Migration, strings.Join(e.Missing, ", "))
}

// PhaseExecutionError wraps a failure that occurred while executing a
// specific forward phase. The engine routes every PhaseExecutionError
// through the rollback compensator before surfacing it.
type PhaseExecutionError struct {
	// Phase is the forward phase that failed.
	Phase Phase

	// Err is the underlying failure.
	Err error
}

func (e *PhaseExecutionError) Error() string {
	return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseExecutionError) Unwrap() error { return e.Err }
