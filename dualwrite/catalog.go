package dualwrite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

// PGCatalog reads trigger metadata from the postgres system catalogs.
type PGCatalog struct {
	db *sql.DB
}

// Compile-time check that PGCatalog implements Catalog.
var _ Catalog = (*PGCatalog)(nil)

// NewPGCatalog creates a catalog over the target database connection.
func NewPGCatalog(db *sql.DB) *PGCatalog {
	return &PGCatalog{db: db}
}

// ActiveTriggers returns non-internal triggers whose names start with
// prefix, with the table each is attached to.
func (c *PGCatalog) ActiveTriggers(ctx context.Context, prefix string) ([]Trigger, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT t.tgname, c.relname
		FROM pg_trigger t
		JOIN pg_class c ON c.oid = t.tgrelid
		WHERE NOT t.tgisinternal AND t.tgname LIKE $1 || '%'
		ORDER BY t.tgname
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query pg_trigger: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	var triggers []Trigger
	for rows.Next() {
		var trig Trigger
		if err := rows.Scan(&trig.Name, &trig.Table); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, trig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return triggers, nil
}

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DropTrigger removes one trigger. Names come from the system catalog
// but are validated anyway before being interpolated into DDL.
func (c *PGCatalog) DropTrigger(ctx context.Context, trigger Trigger) error {
	if !identRegex.MatchString(trigger.Name) || !identRegex.MatchString(trigger.Table) {
		return fmt.Errorf("refusing to drop trigger with unsafe identifier %q on %q", trigger.Name, trigger.Table)
	}

	query := fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trigger.Name, trigger.Table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to drop trigger: %w", err)
	}
	return nil
}
