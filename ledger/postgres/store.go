// Package postgres provides a PostgreSQL-backed Ledger. This is the
// production store: appends commit synchronously, so a record returned
// from Append survives an orchestrator crash immediately afterwards.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/ledger"
)

// Store is a PostgreSQL implementation of Ledger.
type Store struct {
	db           *sql.DB
	recordsTable string
}

// Compile-time check that Store implements Ledger.
var _ ledger.Ledger = (*Store)(nil)

// New creates a new PostgreSQL store with the default table name.
func New(db *sql.DB) *Store {
	return NewWithConfig(db, DefaultTableConfig())
}

// NewWithConfig creates a new PostgreSQL store with a custom table name.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:           db,
		recordsTable: config.RecordsTable,
	}
}

// Append writes one phase record for a run. The per-run sequence is
// assigned inside the insert; the orchestrator is the single writer per
// run, so the subselect cannot race with itself.
func (s *Store) Append(ctx context.Context, runID, migration string, phase migrate.Phase, status migrate.PhaseStatus, details string) (migrate.PhaseRecord, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, seq, migration, phase, status, details, recorded_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, NOW()
		FROM %s WHERE run_id = $1
		RETURNING seq, recorded_at
	`, s.recordsTable, s.recordsTable)

	rec := migrate.PhaseRecord{
		RunID:     runID,
		Migration: migration,
		Phase:     phase,
		Status:    status,
		Details:   details,
	}

	err := s.db.QueryRowContext(ctx, query, runID, migration, string(phase), string(status), details).Scan(
		&rec.Seq,
		&rec.RecordedAt,
	)
	if err != nil {
		return migrate.PhaseRecord{}, fmt.Errorf("failed to append phase record: %w", err)
	}

	return rec, nil
}

// History returns the ordered phase records for a run.
// Returns ledger.ErrRunNotFound if the run has no records.
func (s *Store) History(ctx context.Context, runID string) ([]migrate.PhaseRecord, error) {
	query := fmt.Sprintf(`
		SELECT seq, run_id, migration, phase, status, details, recorded_at
		FROM %s
		WHERE run_id = $1
		ORDER BY seq
	`, s.recordsTable)

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ledger.ErrRunNotFound
	}

	return records, nil
}

// CurrentState reconstructs a run by replaying its records.
func (s *Store) CurrentState(ctx context.Context, runID string) (migrate.MigrationRun, error) {
	records, err := s.History(ctx, runID)
	if err != nil {
		return migrate.MigrationRun{}, err
	}

	run, ok := migrate.ReplayRecords(records)
	if !ok {
		return migrate.MigrationRun{}, ledger.ErrRunNotFound
	}
	return run, nil
}

// Unfinished returns every run whose latest record is not a terminal
// phase, ordered by when the run started.
func (s *Store) Unfinished(ctx context.Context) ([]migrate.MigrationRun, error) {
	query := fmt.Sprintf(`
		SELECT r.run_id
		FROM %s r
		JOIN (SELECT run_id, MAX(seq) AS max_seq FROM %s GROUP BY run_id) latest
		  ON r.run_id = latest.run_id AND r.seq = latest.max_seq
		WHERE r.phase NOT IN ('completed', 'rolled_back', 'failed')
		ORDER BY r.recorded_at
	`, s.recordsTable, s.recordsTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	var runIDs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		runIDs = append(runIDs, runID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unfinished runs: %w", err)
	}

	var runs []migrate.MigrationRun
	for _, runID := range runIDs {
		run, err := s.CurrentState(ctx, runID)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func scanRecords(rows *sql.Rows) ([]migrate.PhaseRecord, error) {
	var records []migrate.PhaseRecord
	for rows.Next() {
		var rec migrate.PhaseRecord
		var phase, status string
		err := rows.Scan(
			&rec.Seq,
			&rec.RunID,
			&rec.Migration,
			&phase,
			&status,
			&rec.Details,
			&rec.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase record: %w", err)
		}
		rec.Phase = migrate.Phase(phase)
		rec.Status = migrate.PhaseStatus(status)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase records: %w", err)
	}

	return records, nil
}
