// Package sqlite provides a SQLite-backed Ledger for single-host
// installs and tests. The ledger travels with the orchestrator binary,
// which is enough when the control database is the target database's
// host itself.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/ledger"

	// Register the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite implementation of Ledger.
type Store struct {
	db *sql.DB
}

// Compile-time check that Store implements Ledger.
var _ ledger.Ledger = (*Store)(nil)

// Open opens (or creates) a ledger database at path and ensures the
// schema exists. The connection uses synchronous=FULL so an append that
// has returned survives a process crash.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// SQLite handles one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY churn entirely.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The caller owns schema creation;
// use EnsureSchema if the table may not exist yet.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the phase records table if it does not exist.
func (s *Store) EnsureSchema() error {
	return s.ensureSchema()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrate_phase_records (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			migration TEXT NOT NULL,
			phase TEXT NOT NULL,
			status TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			recorded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (run_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// Append writes one phase record for a run. The orchestrator is the
// single writer per run, so reading the max sequence before inserting
// cannot race with itself.
func (s *Store) Append(ctx context.Context, runID, migration string, phase migrate.Phase, status migrate.PhaseStatus, details string) (migrate.PhaseRecord, error) {
	rec := migrate.PhaseRecord{
		RunID:      runID,
		Migration:  migration,
		Phase:      phase,
		Status:     status,
		Details:    details,
		RecordedAt: time.Now().UTC(),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM migrate_phase_records WHERE run_id = ?`,
		runID,
	).Scan(&rec.Seq)
	if err != nil {
		return migrate.PhaseRecord{}, fmt.Errorf("failed to assign sequence: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO migrate_phase_records (run_id, seq, migration, phase, status, details, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Seq, migration, string(phase), string(status), details, rec.RecordedAt,
	)
	if err != nil {
		return migrate.PhaseRecord{}, fmt.Errorf("failed to append phase record: %w", err)
	}

	return rec, nil
}

// History returns the ordered phase records for a run.
// Returns ledger.ErrRunNotFound if the run has no records.
func (s *Store) History(ctx context.Context, runID string) ([]migrate.PhaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, run_id, migration, phase, status, details, recorded_at
		 FROM migrate_phase_records WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get run history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	var records []migrate.PhaseRecord
	for rows.Next() {
		var rec migrate.PhaseRecord
		var phase, status string
		err := rows.Scan(&rec.Seq, &rec.RunID, &rec.Migration, &phase, &status, &rec.Details, &rec.RecordedAt)
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id
		FROM migrate_phase_records r
		JOIN (SELECT run_id, MAX(seq) AS max_seq FROM migrate_phase_records GROUP BY run_id) latest
		  ON r.run_id = latest.run_id AND r.seq = latest.max_seq
		WHERE r.phase NOT IN ('completed', 'rolled_back', 'failed')
		ORDER BY r.recorded_at
	`)
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
