package ledger

import (
	"context"
	"sync"

	migrate "github.com/getpup/migrate-orchestrator"
)

// MockLedger is a configurable mock implementation of Ledger for use in
// tests. It allows setting up expected return values, tracking method
// calls, and injecting errors for testing error paths.
type MockLedger struct {
	mu sync.RWMutex

	// AppendFunc is called by Append if set.
	AppendFunc func(ctx context.Context, runID, migration string, phase migrate.Phase, status migrate.PhaseStatus, details string) (migrate.PhaseRecord, error)

	// HistoryFunc is called by History if set.
	HistoryFunc func(ctx context.Context, runID string) ([]migrate.PhaseRecord, error)

	// CurrentStateFunc is called by CurrentState if set.
	CurrentStateFunc func(ctx context.Context, runID string) (migrate.MigrationRun, error)

	// UnfinishedFunc is called by Unfinished if set.
	UnfinishedFunc func(ctx context.Context) ([]migrate.MigrationRun, error)

	// Call tracking
	AppendCalls       []AppendCall
	HistoryCalls      []string
	CurrentStateCalls []string
	UnfinishedCalls   int
}

// AppendCall records the parameters of a single Append call.
type AppendCall struct {
	RunID     string
	Migration string
	Phase     migrate.Phase
	Status    migrate.PhaseStatus
	Details   string
}

// Compile-time check that MockLedger implements Ledger.
var _ Ledger = (*MockLedger)(nil)

// Append implements Ledger. Records the call, then delegates to
// AppendFunc if set; otherwise echoes the record back.
func (m *MockLedger) Append(ctx context.Context, runID, migration string, phase migrate.Phase, status migrate.PhaseStatus, details string) (migrate.PhaseRecord, error) {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, AppendCall{
		RunID:     runID,
		Migration: migration,
		Phase:     phase,
		Status:    status,
		Details:   details,
	})
	m.mu.Unlock()

	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, runID, migration, phase, status, details)
	}
	return migrate.PhaseRecord{
		Seq:       len(m.AppendCalls),
		RunID:     runID,
		Migration: migration,
		Phase:     phase,
		Status:    status,
		Details:   details,
	}, nil
}

// History implements Ledger.
func (m *MockLedger) History(ctx context.Context, runID string) ([]migrate.PhaseRecord, error) {
	m.mu.Lock()
	m.HistoryCalls = append(m.HistoryCalls, runID)
	m.mu.Unlock()

	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, runID)
	}
	return nil, ErrRunNotFound
}

// CurrentState implements Ledger.
func (m *MockLedger) CurrentState(ctx context.Context, runID string) (migrate.MigrationRun, error) {
	m.mu.Lock()
	m.CurrentStateCalls = append(m.CurrentStateCalls, runID)
	m.mu.Unlock()

	if m.CurrentStateFunc != nil {
		return m.CurrentStateFunc(ctx, runID)
	}
	return migrate.MigrationRun{}, ErrRunNotFound
}

// Unfinished implements Ledger.
func (m *MockLedger) Unfinished(ctx context.Context) ([]migrate.MigrationRun, error) {
	m.mu.Lock()
	m.UnfinishedCalls++
	m.mu.Unlock()

	if m.UnfinishedFunc != nil {
		return m.UnfinishedFunc(ctx)
	}
	return nil, nil
}

// Reset clears the call history.
func (m *MockLedger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls = nil
	m.HistoryCalls = nil
	m.CurrentStateCalls = nil
	m.UnfinishedCalls = 0
}
