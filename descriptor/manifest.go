package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the optional per-migration settings file. The
// orchestrator parses only this file; the six artifacts stay opaque.
const ManifestFile = "migration.yaml"

// RiskProfile controls how conservative the rollback path is.
type RiskProfile string

const (
	// RiskLow migrations are routine additive changes.
	RiskLow RiskProfile = "low"

	// RiskHigh migrations are recorded as high risk in run details so
	// operators review rollbacks before any manual object removal.
	RiskHigh RiskProfile = "high"
)

// Manifest carries optional per-migration overrides.
type Manifest struct {
	// BackfillTimeout overrides the configured backfill timeout.
	BackfillTimeout time.Duration `yaml:"-"`

	// CleanupDwell overrides the configured observation window before
	// cleanup runs.
	CleanupDwell time.Duration `yaml:"-"`

	// Risk is low (default) or high.
	Risk RiskProfile `yaml:"risk"`
}

// manifestYAML is the on-disk form; durations use time.ParseDuration
// syntax ("90s", "10m").
type manifestYAML struct {
	BackfillTimeout string      `yaml:"backfill_timeout"`
	CleanupDwell    string      `yaml:"cleanup_dwell"`
	Risk            RiskProfile `yaml:"risk"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Manifest) UnmarshalYAML(value *yaml.Node) error {
	var raw manifestYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}

	m.Risk = raw.Risk
	if raw.BackfillTimeout != "" {
		d, err := time.ParseDuration(raw.BackfillTimeout)
		if err != nil {
			return fmt.Errorf("backfill_timeout: %w", err)
		}
		m.BackfillTimeout = d
	}
	if raw.CleanupDwell != "" {
		d, err := time.ParseDuration(raw.CleanupDwell)
		if err != nil {
			return fmt.Errorf("cleanup_dwell: %w", err)
		}
		m.CleanupDwell = d
	}
	return nil
}

// loadManifest reads migration.yaml from dir if present. An absent file
// yields a zero Manifest with RiskLow; a malformed file is an error.
func loadManifest(dir string) (Manifest, error) {
	m := Manifest{Risk: RiskLow}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return Manifest{}, err
	}

	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("invalid %s: %w", ManifestFile, err)
	}

	if m.Risk == "" {
		m.Risk = RiskLow
	}
	if m.Risk != RiskLow && m.Risk != RiskHigh {
		return Manifest{}, fmt.Errorf("invalid %s: risk must be low or high (got %q)", ManifestFile, m.Risk)
	}
	if m.BackfillTimeout < 0 || m.CleanupDwell < 0 {
		return Manifest{}, fmt.Errorf("invalid %s: durations must not be negative", ManifestFile)
	}

	return m, nil
}
