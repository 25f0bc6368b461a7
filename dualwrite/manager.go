// Package dualwrite manages the database-side mechanisms that mirror
// writes between the old and new schema shapes while both exist. By
// convention the dual-write artifact installs triggers named
// dw_<migration>_*, which is how the manager finds them to verify
// activation and to remove them later.
package dualwrite

import (
	"context"
	"fmt"
	"strings"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/descriptor"
	"github.com/getpup/migrate-orchestrator/executor"
)

// Trigger identifies one installed dual-write mechanism.
type Trigger struct {
	// Name is the trigger name.
	Name string

	// Table is the table the trigger is attached to.
	Table string
}

// Catalog inspects and removes dual-write triggers. The production
// implementation reads the postgres system catalogs; tests use a fake.
type Catalog interface {
	// ActiveTriggers returns triggers whose names start with prefix.
	ActiveTriggers(ctx context.Context, prefix string) ([]Trigger, error)

	// DropTrigger removes one trigger.
	DropTrigger(ctx context.Context, trigger Trigger) error
}

// Config holds configuration for the dual-write Manager.
type Config struct {
	// Runner executes the dual-write artifact (required).
	Runner executor.Runner

	// Catalog inspects installed triggers (required).
	Catalog Catalog

	// Logger is for observability (optional).
	Logger migrate.Logger
}

// Manager activates and deactivates dual-write mechanisms.
type Manager struct {
	config Config
}

// New creates a new Manager with the given configuration.
func New(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// TriggerPrefix returns the naming-convention prefix for a migration's
// dual-write triggers.
func TriggerPrefix(migration string) string {
	return "dw_" + strings.ReplaceAll(migration, "-", "_") + "_"
}

// Enable runs the dual-write artifact and verifies activation by
// counting installed triggers. An enable that reports success but
// installs zero mechanisms returns migrate.ErrDualWriteInactive; it is
// a failure, not a silent no-op.
func (m *Manager) Enable(ctx context.Context, desc *descriptor.Descriptor) error {
	if _, err := m.config.Runner.Run(ctx, desc.Artifact(descriptor.ArtifactDualWriteTrigger)); err != nil {
		return fmt.Errorf("dual-write activation failed: %w", err)
	}

	triggers, err := m.config.Catalog.ActiveTriggers(ctx, TriggerPrefix(desc.Name))
	if err != nil {
		return fmt.Errorf("failed to verify dual-write activation: %w", err)
	}
	if len(triggers) == 0 {
		return fmt.Errorf("migration %q: %w", desc.Name, migrate.ErrDualWriteInactive)
	}

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "dual-write enabled",
			"migration", desc.Name, "triggers", len(triggers))
	}
	return nil
}

// Disable removes every dual-write trigger installed for the
// migration. Disabling when none are installed is a no-op, which keeps
// rollback idempotent.
func (m *Manager) Disable(ctx context.Context, migration string) error {
	triggers, err := m.config.Catalog.ActiveTriggers(ctx, TriggerPrefix(migration))
	if err != nil {
		return fmt.Errorf("failed to list dual-write triggers: %w", err)
	}

	for _, trig := range triggers {
		if err := m.config.Catalog.DropTrigger(ctx, trig); err != nil {
			return fmt.Errorf("failed to drop trigger %s on %s: %w", trig.Name, trig.Table, err)
		}
	}

	if m.config.Logger != nil && len(triggers) > 0 {
		m.config.Logger.Info(ctx, "dual-write disabled",
			"migration", migration, "triggersRemoved", len(triggers))
	}
	return nil
}

// ActiveCount returns the number of dual-write triggers currently
// installed for the migration.
func (m *Manager) ActiveCount(ctx context.Context, migration string) (int, error) {
	triggers, err := m.config.Catalog.ActiveTriggers(ctx, TriggerPrefix(migration))
	if err != nil {
		return 0, err
	}
	return len(triggers), nil
}
