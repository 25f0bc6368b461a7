// Package memory provides an in-memory Ledger for testing.
package memory

import (
	"context"
	"sync"
	"time"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/ledger"
)

// Store is an in-memory implementation of Ledger for testing.
// It provides thread-safe access to phase records using a sync.RWMutex.
type Store struct {
	mu      sync.RWMutex
	records map[string][]migrate.PhaseRecord // runID -> ordered records
	order   []string                         // runIDs in first-append order
}

// Compile-time check that Store implements Ledger.
var _ ledger.Ledger = (*Store)(nil)

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{
		records: make(map[string][]migrate.PhaseRecord),
	}
}

// Append writes one phase record for a run. Records are copied on read,
// so callers can never mutate stored history.
func (s *Store) Append(ctx context.Context, runID, migration string, phase migrate.Phase, status migrate.PhaseStatus, details string) (migrate.PhaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[runID]; !ok {
		s.order = append(s.order, runID)
	}

	rec := migrate.PhaseRecord{
		Seq:        len(s.records[runID]) + 1,
		RunID:      runID,
		Migration:  migration,
		Phase:      phase,
		Status:     status,
		Details:    details,
		RecordedAt: time.Now().UTC(),
	}
	s.records[runID] = append(s.records[runID], rec)

	return rec, nil
}

// History returns the ordered phase records for a run.
// Returns ledger.ErrRunNotFound if the run has no records.
func (s *Store) History(ctx context.Context, runID string) ([]migrate.PhaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, ok := s.records[runID]
	if !ok {
		return nil, ledger.ErrRunNotFound
	}

	out := make([]migrate.PhaseRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// CurrentState reconstructs a run by replaying its records.
// Returns ledger.ErrRunNotFound if the run has no records.
func (s *Store) CurrentState(ctx context.Context, runID string) (migrate.MigrationRun, error) {
	recs, err := s.History(ctx, runID)
	if err != nil {
		return migrate.MigrationRun{}, err
	}

	run, ok := migrate.ReplayRecords(recs)
	if !ok {
		return migrate.MigrationRun{}, ledger.ErrRunNotFound
	}
	return run, nil
}

// Unfinished returns every run whose replayed state is not terminal.
func (s *Store) Unfinished(ctx context.Context) ([]migrate.MigrationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []migrate.MigrationRun
	for _, runID := range s.order {
		run, ok := migrate.ReplayRecords(s.records[runID])
		if !ok {
			continue
		}
		if !run.Terminal() {
			runs = append(runs, run)
		}
	}
	return runs, nil
}
