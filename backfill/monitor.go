// Package backfill launches the backfill artifact as an independent
// long-running job and polls its progress, so the orchestrator stays
// responsive to operator cancellation while the job runs. Progress is
// mirrored into the ledger as details updates; a crashed orchestrator
// can then report how far the backfill got on restart.
package backfill

import (
	"context"
	"fmt"
	"sync"
	"time"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/descriptor"
	"github.com/getpup/migrate-orchestrator/executor"
	"github.com/getpup/migrate-orchestrator/ledger"
)

// Config holds configuration for the backfill Monitor.
type Config struct {
	// Runner executes the backfill artifact (required).
	Runner executor.Runner

	// Progress reads the best-effort progress channel (optional).
	Progress ProgressReader

	// Ledger receives periodic progress details (optional).
	Ledger ledger.Ledger

	// PollInterval is how often progress is sampled (default: 10s).
	PollInterval time.Duration

	// Logger is for observability (optional).
	Logger migrate.Logger
}

// Job is an asynchronous, cancellable backfill tracked by the Monitor.
type Job struct {
	// RunID is the migration run this job belongs to.
	RunID string

	// Migration is the migration name.
	Migration string

	// StartedAt is when the job was launched.
	StartedAt time.Time

	// TimeoutAt is when the job's wall-clock budget expires.
	TimeoutAt time.Time

	// Timeout is the job's wall-clock budget.
	Timeout time.Duration

	cancel context.CancelFunc
	done   chan error

	mu       sync.Mutex
	progress float64
}

// Progress returns the last sampled progress percent.
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *Job) setProgress(pct float64) {
	j.mu.Lock()
	j.progress = pct
	j.mu.Unlock()
}

// Monitor owns BackfillJob lifecycle within the backfill phase.
type Monitor struct {
	config Config

	mu   sync.Mutex
	jobs map[string]*Job
}

// New creates a new Monitor with the given configuration.
// Applies a default PollInterval if zero.
func New(cfg Config) *Monitor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Monitor{
		config: cfg,
		jobs:   make(map[string]*Job),
	}
}

// Start launches the backfill artifact as an independent job and
// returns its handle. The job runs under its own context so that only
// Await decides when it is cancelled.
func (m *Monitor) Start(ctx context.Context, runID string, desc *descriptor.Descriptor, timeout time.Duration) *Job {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	// The monitor enforces the wall-clock budget itself; the statement
	// timeout must not cut a long backfill short.
	jobCtx = executor.ContextWithoutStatementTimeout(jobCtx)

	now := time.Now()
	job := &Job{
		RunID:     runID,
		Migration: desc.Name,
		StartedAt: now,
		TimeoutAt: now.Add(timeout),
		Timeout:   timeout,
		cancel:    cancel,
		done:      make(chan error, 1),
	}

	m.mu.Lock()
	m.jobs[runID] = job
	m.mu.Unlock()

	artifact := desc.Artifact(descriptor.ArtifactBackfill)
	go func() {
		_, err := m.config.Runner.Run(jobCtx, artifact)
		job.done <- err
	}()

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "backfill started",
			"runID", runID, "migration", desc.Name, "timeout", timeout)
	}
	return job
}

// Get returns the job handle for a run, if one is being tracked.
func (m *Monitor) Get(runID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[runID]
	return job, ok
}

// Poll reports whether the job is still running and its last known
// progress percent. Non-blocking.
func (m *Monitor) Poll(ctx context.Context, job *Job) (running bool, progressPercent float64) {
	select {
	case err := <-job.done:
		// Put the result back for Await.
		job.done <- err
		return false, job.Progress()
	default:
	}

	m.sampleProgress(ctx, job)
	return true, job.Progress()
}

// Await blocks until the job exits, its timeout elapses, or ctx is
// cancelled. It polls rather than blocking on job exit alone, sampling
// progress on each tick and mirroring it into the ledger. Timeout
// returns migrate.ErrBackfillTimeout; cancellation returns ctx.Err().
// Either way the job process is stopped before Await returns.
func (m *Monitor) Await(ctx context.Context, job *Job) error {
	defer m.remove(job.RunID)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(time.Until(job.TimeoutAt))
	defer timeout.Stop()

	for {
		select {
		case err := <-job.done:
			if err != nil {
				return fmt.Errorf("backfill job failed: %w", err)
			}
			return nil

		case <-ctx.Done():
			job.cancel()
			<-job.done
			if m.config.Logger != nil {
				m.config.Logger.Warn(ctx, "backfill cancelled by operator",
					"runID", job.RunID, "progress", job.Progress())
			}
			return ctx.Err()

		case <-timeout.C:
			job.cancel()
			<-job.done
			return fmt.Errorf("backfill exceeded %s (last progress %.0f%%): %w",
				job.Timeout, job.Progress(), migrate.ErrBackfillTimeout)

		case <-ticker.C:
			m.sampleProgress(ctx, job)
		}
	}
}

// sampleProgress reads the progress channel and mirrors it to the
// ledger. The channel is best-effort; read failures are logged, never
// fatal.
func (m *Monitor) sampleProgress(ctx context.Context, job *Job) {
	if m.config.Progress == nil {
		return
	}

	pct, ok, err := m.config.Progress.Percent(ctx, job.RunID)
	if err != nil {
		if m.config.Logger != nil {
			m.config.Logger.Warn(ctx, "failed to read backfill progress", "runID", job.RunID, "error", err)
		}
		return
	}
	if !ok {
		return
	}
	job.setProgress(pct)

	if m.config.Ledger != nil {
		details := fmt.Sprintf("backfill progress %.0f%%", pct)
		_, err := m.config.Ledger.Append(ctx, job.RunID, job.Migration,
			migrate.PhaseBackfill, migrate.StatusInProgress, details)
		if err != nil && m.config.Logger != nil {
			m.config.Logger.Warn(ctx, "failed to record backfill progress", "runID", job.RunID, "error", err)
		}
	}
}

func (m *Monitor) remove(runID string) {
	m.mu.Lock()
	delete(m.jobs, runID)
	m.mu.Unlock()
}
