package migrate

import "time"

// Phase identifies a stage in a migration run's lifecycle.
// Forward phases execute in a strict total order; the terminal phases
// (completed, rolled_back, failed) are only ever reached through the
// state machine or the rollback compensator, never skipped into.
type Phase string

const (
	// PhasePreflight checks connectivity, load, and disk headroom before
	// any database mutation occurs.
	PhasePreflight Phase = "preflight"

	// PhaseShadowSchema executes the additive schema artifact.
	PhaseShadowSchema Phase = "shadow_schema"

	// PhaseDualWrite activates the mechanisms keeping old and new shapes
	// consistent while both exist.
	PhaseDualWrite Phase = "dual_write"

	// PhaseBackfill populates the new shape from pre-existing data.
	PhaseBackfill Phase = "backfill"

	// PhaseValidation compares old-shape and new-shape data before cutover.
	PhaseValidation Phase = "validation"

	// PhaseCutover flips the read path to the new shape.
	PhaseCutover Phase = "cutover"

	// PhaseCleanup removes dual-write mechanisms after the observation
	// window and marks old-shape objects for delayed removal.
	PhaseCleanup Phase = "cleanup"

	// PhaseCompleted is the terminal phase of a fully successful run.
	PhaseCompleted Phase = "completed"

	// PhaseRolledBack is the terminal phase of a run undone by the
	// rollback compensator.
	PhaseRolledBack Phase = "rolled_back"

	// PhaseFailed is the terminal phase of a run whose rollback itself
	// failed, or that was left for manual rollback. Requires operator
	// intervention; there is no automated recovery path out of it.
	PhaseFailed Phase = "failed"
)

// ForwardPhases is the strict execution order of a migration run.
// No phase may be skipped and no backward transition is permitted;
// recovery always goes through rollback.
var ForwardPhases = []Phase{
	PhasePreflight,
	PhaseShadowSchema,
	PhaseDualWrite,
	PhaseBackfill,
	PhaseValidation,
	PhaseCutover,
	PhaseCleanup,
}

var forwardIndex = func() map[Phase]int {
	m := make(map[Phase]int, len(ForwardPhases))
	for i, p := range ForwardPhases {
		m[p] = i
	}
	return m
}()

// IsForward reports whether p is one of the seven forward phases.
func (p Phase) IsForward() bool {
	_, ok := forwardIndex[p]
	return ok
}

// IsTerminal reports whether p is one of the three terminal phases.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseRolledBack || p == PhaseFailed
}

// Next returns the forward phase following p, or PhaseCompleted after
// the last forward phase. Returns false if p is not a forward phase.
func (p Phase) Next() (Phase, bool) {
	i, ok := forwardIndex[p]
	if !ok {
		return "", false
	}
	if i == len(ForwardPhases)-1 {
		return PhaseCompleted, true
	}
	return ForwardPhases[i+1], true
}

// Before reports whether p executes strictly before other in the forward
// order. Non-forward phases are never before anything.
func (p Phase) Before(other Phase) bool {
	pi, ok1 := forwardIndex[p]
	oi, ok2 := forwardIndex[other]
	return ok1 && ok2 && pi < oi
}

// AtOrAfter reports whether p is a forward phase at or after other.
// Used by the rollback compensator to decide which undo actions apply.
func (p Phase) AtOrAfter(other Phase) bool {
	pi, ok1 := forwardIndex[p]
	oi, ok2 := forwardIndex[other]
	return ok1 && ok2 && pi >= oi
}

// PhaseStatus is the status of a single PhaseRecord.
type PhaseStatus string

const (
	// StatusInProgress is recorded before a phase's work begins. A run
	// whose latest record is in_progress was interrupted and requires
	// explicit operator resumption or rollback.
	StatusInProgress PhaseStatus = "in_progress"

	// StatusCompleted is recorded after a phase's work succeeds.
	StatusCompleted PhaseStatus = "completed"

	// StatusFailed is recorded when a phase's work fails.
	StatusFailed PhaseStatus = "failed"
)

// PhaseRecord is one append-only ledger entry for a migration run.
// Records are never mutated; the current state of a run is always
// derivable by replaying its records in order.
type PhaseRecord struct {
	// Seq is the record's position within the run, assigned by the ledger.
	Seq int

	// RunID is the migration run this record belongs to.
	RunID string

	// Migration is the migration name, repeated on every record so a run
	// is fully self-describing from its history alone.
	Migration string

	// Phase is the phase this record marks entry into or exit from.
	Phase Phase

	// Status is in_progress, completed, or failed.
	Status PhaseStatus

	// Details is free-form diagnostic text attached at the transition.
	Details string

	// RecordedAt is when the ledger accepted the append.
	RecordedAt time.Time
}

// MigrationRun is the replayed view of one execution of one migration.
type MigrationRun struct {
	// RunID uniquely identifies the run.
	RunID string

	// Migration identifies which descriptor set the run used.
	Migration string

	// CurrentPhase is the phase derived from the latest record.
	CurrentPhase Phase

	// CurrentStatus is the status of the latest record.
	CurrentStatus PhaseStatus

	// StartedAt is the timestamp of the first record.
	StartedAt time.Time

	// CompletedAt is the timestamp of the terminal record; zero until a
	// terminal phase is reached.
	CompletedAt time.Time

	// Details is the diagnostic text of the latest record.
	Details string
}

// Terminal reports whether the run has reached a terminal phase.
func (r MigrationRun) Terminal() bool {
	return r.CurrentPhase.IsTerminal()
}

// Interrupted reports whether the run's latest record left a phase
// in_progress, meaning the orchestrator died (or was cancelled without
// rollback) mid-phase. Such runs must never be auto-resumed.
func (r MigrationRun) Interrupted() bool {
	return !r.Terminal() && r.CurrentStatus == StatusInProgress
}

// ReplayRecords reconstructs a MigrationRun from its ordered records.
// Returns false if records is empty.
func ReplayRecords(records []PhaseRecord) (MigrationRun, bool) {
	if len(records) == 0 {
		return MigrationRun{}, false
	}

	first := records[0]
	last := records[len(records)-1]

	run := MigrationRun{
		RunID:         first.RunID,
		Migration:     first.Migration,
		CurrentPhase:  last.Phase,
		CurrentStatus: last.Status,
		StartedAt:     first.RecordedAt,
		Details:       last.Details,
	}

	if last.Phase.IsTerminal() {
		run.CompletedAt = last.RecordedAt
	}

	return run, true
}
