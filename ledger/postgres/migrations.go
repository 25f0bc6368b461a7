package postgres

import "fmt"

// TableConfig configures the table name used by the ledger.
type TableConfig struct {
	// RecordsTable is the name of the table storing phase records.
	RecordsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		RecordsTable: "migrate_phase_records",
	}
}

// MigrationUp returns the SQL to create the ledger table.
// The (run_id, seq) primary key enforces the per-run append order, and
// the index on recorded_at supports listing unfinished runs.
func MigrationUp(config TableConfig) string {
	return fmt.Sprintf(`-- Create phase record ledger table
CREATE TABLE %s (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    migration TEXT NOT NULL,
    phase TEXT NOT NULL,
    status TEXT NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (run_id, seq)
);

-- Index for scanning records in acceptance order
CREATE INDEX idx_%s_recorded_at ON %s(recorded_at);
`, config.RecordsTable, config.RecordsTable, config.RecordsTable)
}

// MigrationDown returns the SQL to drop the ledger table.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`-- Drop phase record ledger table
DROP TABLE IF EXISTS %s;
`, config.RecordsTable)
}
