package cutover

import (
	"context"
	"database/sql"
	"fmt"
)

// DefaultFlagTable is the table holding per-migration read-path flags.
const DefaultFlagTable = "migrate_read_path"

// FlagStore is a Switch backed by a flag table in the control database.
// The application decides its read path by consulting this table (or a
// view defined over it), which is what keeps the flip instantaneous.
type FlagStore struct {
	db    *sql.DB
	table string
}

// Compile-time check that FlagStore implements Switch.
var _ Switch = (*FlagStore)(nil)

// NewFlagStore creates a FlagStore on the given database connection.
// Uses DefaultFlagTable if table is empty.
func NewFlagStore(db *sql.DB, table string) *FlagStore {
	if table == "" {
		table = DefaultFlagTable
	}
	return &FlagStore{db: db, table: table}
}

// Flip implements the Switch interface.
func (s *FlagStore) Flip(ctx context.Context, migration string) error {
	return s.set(ctx, migration, true)
}

// Revert implements the Switch interface.
func (s *FlagStore) Revert(ctx context.Context, migration string) error {
	return s.set(ctx, migration, false)
}

func (s *FlagStore) set(ctx context.Context, migration string, newShape bool) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (migration, new_shape, flipped_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (migration)
		DO UPDATE SET new_shape = $2, flipped_at = NOW()`, s.table)

	if _, err := s.db.ExecContext(ctx, query, migration, newShape); err != nil {
		return fmt.Errorf("failed to set read path for %s: %w", migration, err)
	}
	return nil
}

// NewShape reports whether reads for the migration point at the new
// shape. A migration with no flag row reads the old shape.
func (s *FlagStore) NewShape(ctx context.Context, migration string) (bool, error) {
	query := fmt.Sprintf(`SELECT new_shape FROM %s WHERE migration = $1`, s.table)

	var newShape bool
	err := s.db.QueryRowContext(ctx, query, migration).Scan(&newShape)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read path flag for %s: %w", migration, err)
	}
	return newShape, nil
}

// MigrationUp returns the SQL to create the read-path flag table.
func MigrationUp(table string) string {
	if table == "" {
		table = DefaultFlagTable
	}
	return fmt.Sprintf(`-- Create read-path flag table
CREATE TABLE %s (
    migration TEXT PRIMARY KEY,
    new_shape BOOLEAN NOT NULL DEFAULT FALSE,
    flipped_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`, table)
}

// MigrationDown returns the SQL to drop the read-path flag table.
func MigrationDown(table string) string {
	if table == "" {
		table = DefaultFlagTable
	}
	return fmt.Sprintf(`-- Drop read-path flag table
DROP TABLE IF EXISTS %s;
`, table)
}
