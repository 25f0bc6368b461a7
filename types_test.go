package migrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardPhases_StrictOrder(t *testing.T) {
	expected := []Phase{
		PhasePreflight,
		PhaseShadowSchema,
		PhaseDualWrite,
		PhaseBackfill,
		PhaseValidation,
		PhaseCutover,
		PhaseCleanup,
	}
	assert.Equal(t, expected, ForwardPhases)
}

func TestPhase_Next(t *testing.T) {
	next, ok := PhasePreflight.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseShadowSchema, next)

	next, ok = PhaseCleanup.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseCompleted, next)

	_, ok = PhaseCompleted.Next()
	assert.False(t, ok, "terminal phases have no next phase")

	_, ok = PhaseRolledBack.Next()
	assert.False(t, ok)
}

func TestPhase_IsTerminal(t *testing.T) {
	for _, p := range ForwardPhases {
		assert.False(t, p.IsTerminal(), "forward phase %s must not be terminal", p)
		assert.True(t, p.IsForward())
	}
	for _, p := range []Phase{PhaseCompleted, PhaseRolledBack, PhaseFailed} {
		assert.True(t, p.IsTerminal())
		assert.False(t, p.IsForward())
	}
}

func TestPhase_Ordering(t *testing.T) {
	assert.True(t, PhasePreflight.Before(PhaseCutover))
	assert.False(t, PhaseCutover.Before(PhasePreflight))
	assert.False(t, PhaseBackfill.Before(PhaseBackfill))

	assert.True(t, PhaseBackfill.AtOrAfter(PhaseDualWrite))
	assert.True(t, PhaseDualWrite.AtOrAfter(PhaseDualWrite))
	assert.False(t, PhaseShadowSchema.AtOrAfter(PhaseDualWrite))

	// Terminal phases never participate in forward ordering.
	assert.False(t, PhaseRolledBack.AtOrAfter(PhasePreflight))
	assert.False(t, PhasePreflight.Before(PhaseFailed))
}

func TestReplayRecords_Empty(t *testing.T) {
	_, ok := ReplayRecords(nil)
	assert.False(t, ok)
}

func TestReplayRecords_InProgressRun(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []PhaseRecord{
		{Seq: 1, RunID: "run-1", Migration: "add-confidence-scoring", Phase: PhasePreflight, Status: StatusInProgress, RecordedAt: started},
		{Seq: 2, RunID: "run-1", Migration: "add-confidence-scoring", Phase: PhasePreflight, Status: StatusCompleted, RecordedAt: started.Add(time.Second)},
		{Seq: 3, RunID: "run-1", Migration: "add-confidence-scoring", Phase: PhaseShadowSchema, Status: StatusInProgress, Details: "executing up", RecordedAt: started.Add(2 * time.Second)},
	}

	run, ok := ReplayRecords(records)
	require.True(t, ok)
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, "add-confidence-scoring", run.Migration)
	assert.Equal(t, PhaseShadowSchema, run.CurrentPhase)
	assert.Equal(t, StatusInProgress, run.CurrentStatus)
	assert.Equal(t, started, run.StartedAt)
	assert.True(t, run.CompletedAt.IsZero())
	assert.True(t, run.Interrupted(), "latest in_progress record means the run was interrupted")
	assert.False(t, run.Terminal())
}

func TestReplayRecords_TerminalRun(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(time.Minute)
	records := []PhaseRecord{
		{Seq: 1, RunID: "run-2", Migration: "add-x", Phase: PhasePreflight, Status: StatusInProgress, RecordedAt: started},
		{Seq: 2, RunID: "run-2", Migration: "add-x", Phase: PhasePreflight, Status: StatusFailed, RecordedAt: started.Add(time.Second)},
		{Seq: 3, RunID: "run-2", Migration: "add-x", Phase: PhaseRolledBack, Status: StatusCompleted, Details: "rolled back after preflight failure", RecordedAt: ended},
	}

	run, ok := ReplayRecords(records)
	require.True(t, ok)
	assert.Equal(t, PhaseRolledBack, run.CurrentPhase)
	assert.True(t, run.Terminal())
	assert.False(t, run.Interrupted())
	assert.Equal(t, ended, run.CompletedAt)
	assert.Equal(t, "rolled back after preflight failure", run.Details)
}
