package postgres

import (
	"testing"

	"github.com/getpup/migrate-orchestrator/ledger"
	"github.com/stretchr/testify/assert"
)

// TestStoreInitialization verifies that the Store can be initialized correctly.
func TestStoreInitialization(t *testing.T) {
	t.Run("New uses the default table name", func(t *testing.T) {
		s := New(nil)

		assert.NotNil(t, s)
		assert.Equal(t, "migrate_phase_records", s.recordsTable)
	})

	t.Run("NewWithConfig uses a custom table name", func(t *testing.T) {
		s := NewWithConfig(nil, TableConfig{RecordsTable: "my_phase_records"})

		assert.NotNil(t, s)
		assert.Equal(t, "my_phase_records", s.recordsTable)
	})
}

// TestLedgerInterface verifies the Store satisfies the Ledger contract.
func TestLedgerInterface(t *testing.T) {
	var _ ledger.Ledger = (*Store)(nil)
}

// TestMigrations verifies that migration functions generate valid SQL.
func TestMigrations(t *testing.T) {
	t.Run("MigrationUp generates valid SQL", func(t *testing.T) {
		sql := MigrationUp(DefaultTableConfig())

		assert.Contains(t, sql, "CREATE TABLE migrate_phase_records")
		assert.Contains(t, sql, "PRIMARY KEY (run_id, seq)")
		assert.Contains(t, sql, "CREATE INDEX idx_migrate_phase_records_recorded_at")
	})

	t.Run("MigrationUp with custom table name", func(t *testing.T) {
		sql := MigrationUp(TableConfig{RecordsTable: "custom_records"})

		assert.Contains(t, sql, "CREATE TABLE custom_records")
		assert.Contains(t, sql, "ON custom_records(recorded_at)")
	})

	t.Run("MigrationDown drops the table", func(t *testing.T) {
		sql := MigrationDown(DefaultTableConfig())

		assert.Contains(t, sql, "DROP TABLE IF EXISTS migrate_phase_records")
	})
}

// TestTableConfigDefaults verifies the default table configuration.
func TestTableConfigDefaults(t *testing.T) {
	config := DefaultTableConfig()
	assert.Equal(t, "migrate_phase_records", config.RecordsTable)
}
