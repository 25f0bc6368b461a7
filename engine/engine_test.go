package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/backfill"
	"github.com/getpup/migrate-orchestrator/cutover"
	"github.com/getpup/migrate-orchestrator/descriptor"
	"github.com/getpup/migrate-orchestrator/executor"
	"github.com/getpup/migrate-orchestrator/ledger"
	"github.com/getpup/migrate-orchestrator/ledger/memory"
	"github.com/getpup/migrate-orchestrator/lock"
	"github.com/getpup/migrate-orchestrator/metrics"
	"github.com/getpup/migrate-orchestrator/preflight"
	"github.com/getpup/migrate-orchestrator/rollback"
	"github.com/getpup/migrate-orchestrator/validation"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePreflight struct {
	report preflight.Report
	err    error
}

func (f *fakePreflight) Check(ctx context.Context, allowHighLoad bool) (preflight.Report, error) {
	return f.report, f.err
}

func passingPreflight() *fakePreflight {
	return &fakePreflight{
		report: preflight.Report{Checks: []preflight.CheckResult{
			{Name: "connectivity", Passed: true, Detail: "database reachable"},
			{Name: "load", Passed: true, Soft: true, Detail: "3 active connections (ceiling 50)"},
			{Name: "disk", Passed: true, Detail: "82.0% free on / (minimum 10.0%)"},
		}},
	}
}

type fakeDualWrite struct {
	mu         sync.Mutex
	active     bool
	enables    int
	disables   int
	enableErr  error
	disableErr error
}

func (f *fakeDualWrite) Enable(ctx context.Context, desc *descriptor.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return f.enableErr
	}
	f.active = true
	f.enables++
	return nil
}

func (f *fakeDualWrite) Disable(ctx context.Context, migration string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disableErr != nil {
		return f.disableErr
	}
	f.active = false
	f.disables++
	return nil
}

func (f *fakeDualWrite) ActiveCount(ctx context.Context, migration string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return 2, nil
	}
	return 0, nil
}

func (f *fakeDualWrite) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// fakeProgress always reports the same percent, standing in for the
// redis channel a backfill procedure publishes to.
type fakeProgress struct {
	pct float64
}

func (f *fakeProgress) Percent(ctx context.Context, runID string) (float64, bool, error) {
	return f.pct, true, nil
}

// writeMigration lays out a complete artifact directory, optionally
// with a manifest.
func writeMigration(t *testing.T, root, name, manifest string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, a := range []string{"up", "dual-write-trigger", "backfill", "validation", "down", "cleanup"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, a), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	}
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, descriptor.ManifestFile), []byte(manifest), 0o644))
	}
}

type harness struct {
	engine    *Engine
	ledger    *memory.Store
	runner    *executor.MockRunner
	preflight *fakePreflight
	dualWrite *fakeDualWrite
	cutover   *cutover.MemorySwitch
	locker    *lock.MemoryLocker
}

func newHarness(t *testing.T, migration string) *harness {
	t.Helper()
	root := t.TempDir()
	writeMigration(t, root, migration, "")
	return newHarnessWithRoot(t, root)
}

func newHarnessWithRoot(t *testing.T, root string) *harness {
	t.Helper()

	led := memory.New()
	runner := executor.NewMockRunner()
	loader := descriptor.NewLoader(root)
	dw := &fakeDualWrite{}
	sw := cutover.NewMemorySwitch()
	locker := lock.NewMemoryLocker()
	pf := passingPreflight()

	comp := rollback.New(rollback.Config{
		Ledger:      led,
		Descriptors: loader,
		DualWrite:   dw,
		Runner:      runner,
		Cutover:     sw,
	})

	metricsOff := false
	eng := New(Config{
		Ledger:      led,
		Descriptors: loader,
		Locker:      locker,
		Preflight:   pf,
		DualWrite:   dw,
		Backfill:    backfill.New(backfill.Config{Runner: runner, PollInterval: time.Hour}),
		Validation:  validation.New(validation.Config{Runner: runner}),
		Rollback:    comp,
		Cutover:     sw,
		Runner:      runner,

		BackfillTimeout: time.Minute,
		CleanupDwell:    time.Millisecond,
		MetricsEnabled:  &metricsOff,
	})

	return &harness{
		engine:    eng,
		ledger:    led,
		runner:    runner,
		preflight: pf,
		dualWrite: dw,
		cutover:   sw,
		locker:    locker,
	}
}

// failArtifact makes the runner fail whenever the named artifact runs.
func (h *harness) failArtifact(name string, err error) {
	h.runner.RunFunc = func(ctx context.Context, path string) (executor.Result, error) {
		if filepath.Base(path) == name {
			return executor.Result{}, err
		}
		return executor.Result{}, nil
	}
}

// phasePairs flattens history into phase/status pairs for assertions.
func phasePairs(records []migrate.PhaseRecord) []string {
	pairs := make([]string, 0, len(records))
	for _, r := range records {
		pairs = append(pairs, fmt.Sprintf("%s/%s", r.Phase, r.Status))
	}
	return pairs
}

func TestRun_FullSuccess_VisitsPhasesInOrder(t *testing.T) {
	h := newHarness(t, "add-x")
	ctx := context.Background()

	run, err := h.engine.Run(ctx, "add-x", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, migrate.PhaseCompleted, run.CurrentPhase)
	assert.False(t, run.CompletedAt.IsZero())

	history, err := h.ledger.History(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"preflight/in_progress", "preflight/completed",
		"shadow_schema/in_progress", "shadow_schema/completed",
		"dual_write/in_progress", "dual_write/completed",
		"backfill/in_progress", "backfill/completed",
		"validation/in_progress", "validation/completed",
		"cutover/in_progress", "cutover/completed",
		"cleanup/in_progress", "cleanup/completed",
		"completed/completed",
	}, phasePairs(history))

	assert.True(t, h.cutover.NewShape("add-x"), "reads point at the new shape")
	assert.False(t, h.dualWrite.Active(), "dual-write removed by cleanup")
	assert.Equal(t, 1, h.dualWrite.disables)
	assert.False(t, h.locker.Held("add-x"), "lock released at terminal phase")
}

func TestRun_PreflightSummaryRecorded(t *testing.T) {
	h := newHarness(t, "add-x")

	run, err := h.engine.Run(context.Background(), "add-x", RunOptions{})
	require.NoError(t, err)

	history, err := h.ledger.History(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Contains(t, history[1].Details, "connectivity: ok")
}

func TestRun_DescriptorIncomplete_WritesNoRecords(t *testing.T) {
	led := &ledger.MockLedger{}
	h := newHarness(t, "add-x")
	h.engine.config.Ledger = led

	_, err := h.engine.Run(context.Background(), "no-such-migration", RunOptions{})

	var incomplete *migrate.DescriptorIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Len(t, incomplete.Missing, 6)
	assert.Empty(t, led.AppendCalls, "a malformed migration never starts a partial run")
}

func TestRun_LockContention_WritesNoRecords(t *testing.T) {
	led := &ledger.MockLedger{}
	h := newHarness(t, "add-x")
	h.engine.config.Ledger = led

	// Another process holds the lock.
	_, err := h.locker.Acquire(context.Background(), "add-x")
	require.NoError(t, err)

	_, err = h.engine.Run(context.Background(), "add-x", RunOptions{})
	assert.ErrorIs(t, err, migrate.ErrLockContention)
	assert.Empty(t, led.AppendCalls, "a contended run must not write any phase record")
}

func TestRun_FailureAtEachPhase_EndsRolledBack(t *testing.T) {
	tests := []struct {
		name   string
		phase  migrate.Phase
		inject func(h *harness)
	}{
		{"preflight", migrate.PhasePreflight, func(h *harness) {
			h.preflight.err = fmt.Errorf("%w: disk", migrate.ErrPreflightRejected)
		}},
		{"shadow_schema", migrate.PhaseShadowSchema, func(h *harness) {
			h.failArtifact("up", errors.New("syntax error at line 3"))
		}},
		{"dual_write", migrate.PhaseDualWrite, func(h *harness) {
			h.dualWrite.enableErr = migrate.ErrDualWriteInactive
		}},
		{"backfill", migrate.PhaseBackfill, func(h *harness) {
			h.failArtifact("backfill", errors.New("deadlock detected"))
		}},
		{"validation", migrate.PhaseValidation, func(h *harness) {
			h.runner.RunFunc = func(ctx context.Context, path string) (executor.Result, error) {
				if filepath.Base(path) == "validation" {
					return executor.Result{Output: "FAIL checksum mismatch\n"}, nil
				}
				return executor.Result{}, nil
			}
		}},
		{"cutover", migrate.PhaseCutover, func(h *harness) {
			h.cutover.FlipErr = errors.New("flag table unavailable")
		}},
		{"cleanup", migrate.PhaseCleanup, func(h *harness) {
			h.failArtifact("cleanup", errors.New("old view still referenced"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "add-x")
			tt.inject(h)

			run, err := h.engine.Run(context.Background(), "add-x", RunOptions{})
			require.Error(t, err)

			var phaseErr *migrate.PhaseExecutionError
			require.ErrorAs(t, err, &phaseErr)
			assert.Equal(t, tt.phase, phaseErr.Phase)

			assert.Equal(t, migrate.PhaseRolledBack, run.CurrentPhase)
			assert.False(t, h.dualWrite.Active(), "dual-write mechanisms must be absent after rollback")
			assert.False(t, h.locker.Held("add-x"))

			assert.False(t, h.cutover.NewShape("add-x"), "reads point at the old shape after rollback")
		})
	}
}

func TestRun_ValidationFailureNeverDowngraded(t *testing.T) {
	h := newHarness(t, "add-x")
	h.runner.RunFunc = func(ctx context.Context, path string) (executor.Result, error) {
		if filepath.Base(path) == "validation" {
			return executor.Result{Output: "PASS row count\nFAIL checksum leads.email\n"}, nil
		}
		return executor.Result{}, nil
	}

	run, err := h.engine.Run(context.Background(), "add-x", RunOptions{})
	assert.ErrorIs(t, err, migrate.ErrValidationFailed)
	assert.Equal(t, migrate.PhaseRolledBack, run.CurrentPhase)

	history, lerr := h.ledger.History(context.Background(), run.RunID)
	require.NoError(t, lerr)
	var failedRecord migrate.PhaseRecord
	for _, r := range history {
		if r.Phase == migrate.PhaseValidation && r.Status == migrate.StatusFailed {
			failedRecord = r
		}
	}
	assert.Contains(t, failedRecord.Details, "FAIL checksum leads.email",
		"the enumerated report must reach the operator")
}

func TestRun_BackfillTimeout_ExactRecordSequence(t *testing.T) {
	root := t.TempDir()
	writeMigration(t, root, "add-confidence-scoring", "backfill_timeout: 30ms\n")
	h := newHarnessWithRoot(t, root)
	h.runner.RunFunc = func(ctx context.Context, path string) (executor.Result, error) {
		if filepath.Base(path) == "backfill" {
			<-ctx.Done()
			return executor.Result{}, ctx.Err()
		}
		return executor.Result{}, nil
	}

	run, err := h.engine.Run(context.Background(), "add-confidence-scoring", RunOptions{})
	assert.ErrorIs(t, err, migrate.ErrBackfillTimeout)
	assert.Equal(t, migrate.PhaseRolledBack, run.CurrentPhase)

	history, lerr := h.ledger.History(context.Background(), run.RunID)
	require.NoError(t, lerr)
	assert.Equal(t, []string{
		"preflight/in_progress", "preflight/completed",
		"shadow_schema/in_progress", "shadow_schema/completed",
		"dual_write/in_progress", "dual_write/completed",
		"backfill/in_progress", "backfill/failed",
		"rolled_back/completed",
	}, phasePairs(history))
	assert.False(t, h.dualWrite.Active())
}

func TestRun_OperatorCancellationDuringBackfill(t *testing.T) {
	h := newHarness(t, "add-x")
	h.runner.RunFunc = func(ctx context.Context, path string) (executor.Result, error) {
		if filepath.Base(path) == "backfill" {
			<-ctx.Done()
			return executor.Result{}, ctx.Err()
		}
		return executor.Result{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	run, err := h.engine.Run(ctx, "add-x", RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, migrate.PhaseRolledBack, run.CurrentPhase,
		"cancellation routes through rollback, never leaves in_progress")
	assert.False(t, h.dualWrite.Active())
}

func TestRun_RollbackOnErrorDisabled(t *testing.T) {
	h := newHarness(t, "add-x")
	h.failArtifact("backfill", errors.New("deadlock detected"))
	ctx := context.Background()

	noRollback := false
	run, err := h.engine.Run(ctx, "add-x", RunOptions{RollbackOnError: &noRollback})
	require.Error(t, err)
	assert.Equal(t, migrate.PhaseFailed, run.CurrentPhase)
	assert.True(t, h.dualWrite.Active(), "nothing is undone until the operator asks")

	// A later manual rollback still works.
	require.NoError(t, h.engine.Rollback(ctx, run.RunID))
	state, serr := h.ledger.CurrentState(ctx, run.RunID)
	require.NoError(t, serr)
	assert.Equal(t, migrate.PhaseRolledBack, state.CurrentPhase)
	assert.False(t, h.dualWrite.Active())
}

func TestRun_RollbackFailure_TerminalFailed(t *testing.T) {
	h := newHarness(t, "add-x")
	h.failArtifact("backfill", errors.New("deadlock detected"))
	h.dualWrite.disableErr = errors.New("trigger is locked")

	run, err := h.engine.Run(context.Background(), "add-x", RunOptions{})
	assert.ErrorIs(t, err, migrate.ErrRollbackFailed)
	assert.Equal(t, migrate.PhaseFailed, run.CurrentPhase)
	assert.Contains(t, run.Details, "manual intervention")
}

func TestRollback_IdempotentAtEngineLevel(t *testing.T) {
	h := newHarness(t, "add-x")
	h.failArtifact("validation", errors.New("connection reset"))
	ctx := context.Background()

	run, err := h.engine.Run(ctx, "add-x", RunOptions{})
	require.Error(t, err)
	require.Equal(t, migrate.PhaseRolledBack, run.CurrentPhase)

	before, err := h.ledger.History(ctx, run.RunID)
	require.NoError(t, err)

	require.NoError(t, h.engine.Rollback(ctx, run.RunID))
	after, err := h.ledger.History(ctx, run.RunID)
	require.NoError(t, err)

	assert.Equal(t, before, after, "a second rollback produces identical ledger state")
}

func TestUnfinished_SurfacesInterruptedRun(t *testing.T) {
	h := newHarness(t, "add-x")
	ctx := context.Background()

	// Simulates a crash mid-backfill: the latest record is in_progress
	// and no process is driving the run anymore.
	_, err := h.ledger.Append(ctx, "run-dead", "add-x", migrate.PhaseBackfill, migrate.StatusInProgress, "backfill progress 63%")
	require.NoError(t, err)

	unfinished, err := h.engine.Unfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, "run-dead", unfinished[0].RunID)
	assert.True(t, unfinished[0].Interrupted())
	assert.Contains(t, unfinished[0].Details, "63%")
}

func TestRun_NeverAutoResumes(t *testing.T) {
	h := newHarness(t, "add-x")
	ctx := context.Background()

	_, err := h.ledger.Append(ctx, "run-dead", "add-x", migrate.PhaseBackfill, migrate.StatusInProgress, "")
	require.NoError(t, err)

	// A fresh invocation starts a brand new run; the interrupted one
	// stays exactly where it was.
	run, err := h.engine.Run(ctx, "add-x", RunOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, "run-dead", run.RunID)

	dead, err := h.ledger.CurrentState(ctx, "run-dead")
	require.NoError(t, err)
	assert.Equal(t, migrate.PhaseBackfill, dead.CurrentPhase)
	assert.Equal(t, migrate.StatusInProgress, dead.CurrentStatus)
}

func TestDryRun_NoStateChange(t *testing.T) {
	h := newHarness(t, "add-x")
	ctx := context.Background()

	plan, err := h.engine.DryRun(ctx, "add-x", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "add-x", plan.Migration)
	assert.Equal(t, migrate.ForwardPhases, plan.Phases)
	assert.Len(t, plan.Artifacts, 6)
	assert.Equal(t, time.Minute, plan.BackfillTimeout)
	assert.Len(t, plan.Preflight.Checks, 3)

	assert.Empty(t, h.runner.Calls(), "no artifact runs during a dry run")
	assert.False(t, h.locker.Held("add-x"))
	unfinished, err := h.ledger.Unfinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestRun_HighRiskManifestRecordedInDetails(t *testing.T) {
	root := t.TempDir()
	writeMigration(t, root, "add-x", "risk: high\n")
	h := newHarnessWithRoot(t, root)

	run, err := h.engine.Run(context.Background(), "add-x", RunOptions{})
	require.NoError(t, err)

	history, err := h.ledger.History(context.Background(), run.RunID)
	require.NoError(t, err)
	// shadow_schema completed is the fourth record.
	assert.Equal(t, migrate.PhaseShadowSchema, history[3].Phase)
	assert.Contains(t, history[3].Details, "high-risk")
}

func TestRun_GaugesTrackBackfillAndDualWrite(t *testing.T) {
	h := newHarness(t, "add-x")
	h.engine.config.MetricsEnabled = nil // default: enabled
	h.engine.config.Backfill = backfill.New(backfill.Config{
		Runner:       h.runner,
		Progress:     &fakeProgress{pct: 37.5},
		PollInterval: 5 * time.Millisecond,
	})

	var duringValidation float64
	h.runner.RunFunc = func(ctx context.Context, path string) (executor.Result, error) {
		switch filepath.Base(path) {
		case "backfill":
			// Long enough for a few progress samples to land.
			time.Sleep(30 * time.Millisecond)
		case "validation":
			duringValidation = testutil.ToFloat64(metrics.DualWriteTriggers.WithLabelValues("add-x"))
		}
		return executor.Result{}, nil
	}

	_, err := h.engine.Run(context.Background(), "add-x", RunOptions{})
	require.NoError(t, err)

	assert.InDelta(t, 37.5, testutil.ToFloat64(metrics.BackfillProgress.WithLabelValues("add-x")), 0.01,
		"the gauge reports the last sampled progress, not the value at phase start")
	assert.InDelta(t, 2.0, duringValidation, 0.01,
		"the gauge reflects installed triggers while dual-write is live")
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.DualWriteTriggers.WithLabelValues("add-x")), 0.01,
		"cleanup zeroes the gauge")
}

func TestRun_ManifestOverridesBackfillTimeout(t *testing.T) {
	root := t.TempDir()
	writeMigration(t, root, "add-x", "backfill_timeout: 25ms\n")
	h := newHarnessWithRoot(t, root)
	// Engine default is one minute; only the manifest override makes
	// this test finish quickly.
	h.runner.RunFunc = func(ctx context.Context, path string) (executor.Result, error) {
		if filepath.Base(path) == "backfill" {
			<-ctx.Done()
			return executor.Result{}, ctx.Err()
		}
		return executor.Result{}, nil
	}

	start := time.Now()
	_, err := h.engine.Run(context.Background(), "add-x", RunOptions{})
	assert.ErrorIs(t, err, migrate.ErrBackfillTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestStatus_ReturnsReplayedStateAndHistory(t *testing.T) {
	h := newHarness(t, "add-x")
	ctx := context.Background()

	run, err := h.engine.Run(ctx, "add-x", RunOptions{})
	require.NoError(t, err)

	state, history, err := h.engine.Status(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, migrate.PhaseCompleted, state.CurrentPhase)
	assert.Len(t, history, 15)

	_, _, err = h.engine.Status(ctx, "no-such-run")
	assert.ErrorIs(t, err, ledger.ErrRunNotFound)
}

func TestRun_SecondRunAfterCompletionSucceeds(t *testing.T) {
	h := newHarness(t, "add-x")
	ctx := context.Background()

	first, err := h.engine.Run(ctx, "add-x", RunOptions{})
	require.NoError(t, err)

	second, err := h.engine.Run(ctx, "add-x", RunOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID, "every invocation is a fresh run")
}
