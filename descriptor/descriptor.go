// Package descriptor loads and validates per-migration artifact sets.
// A migration is a directory containing exactly six named executable
// artifacts; the loader verifies their presence before any state change
// occurs and never inspects their contents.
package descriptor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	migrate "github.com/getpup/migrate-orchestrator"
)

// ErrInvalidName is returned for migration names that do not match the
// allowed directory-name pattern. Treated as an invalid invocation, not
// a run failure.
var ErrInvalidName = errors.New("invalid migration name")

// Required artifact names within a migration directory.
const (
	ArtifactUp               = "up"
	ArtifactDualWriteTrigger = "dual-write-trigger"
	ArtifactBackfill         = "backfill"
	ArtifactValidation       = "validation"
	ArtifactDown             = "down"
	ArtifactCleanup          = "cleanup"
)

// requiredArtifacts is the complete artifact set, in load order.
var requiredArtifacts = []string{
	ArtifactUp,
	ArtifactDualWriteTrigger,
	ArtifactBackfill,
	ArtifactValidation,
	ArtifactDown,
	ArtifactCleanup,
}

var migrationNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Descriptor is a loaded, validated migration artifact set. It is
// immutable for the lifetime of a run.
type Descriptor struct {
	// Name is the migration name (the directory name).
	Name string

	// Dir is the absolute path of the migration directory.
	Dir string

	// Artifacts maps artifact name to its absolute path.
	Artifacts map[string]string

	// Manifest carries optional per-migration settings from
	// migration.yaml; zero-valued if the file is absent.
	Manifest Manifest
}

// Artifact returns the absolute path of a named artifact.
func (d *Descriptor) Artifact(name string) string {
	return d.Artifacts[name]
}

// Loader resolves migration names against a root directory.
type Loader struct {
	// Root is the directory containing one subdirectory per migration.
	Root string
}

// NewLoader creates a Loader for the given root directory.
func NewLoader(root string) *Loader {
	return &Loader{Root: root}
}

// Load resolves and validates the artifact set for a migration name.
// Returns *migrate.DescriptorIncompleteError if any required artifact is
// missing, listing every missing artifact. Read-only: no side effects.
func (l *Loader) Load(name string) (*Descriptor, error) {
	if !migrationNameRegex.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	dir := filepath.Join(l.Root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, &migrate.DescriptorIncompleteError{
			Migration: name,
			Missing:   requiredArtifacts,
		}
	}

	desc := &Descriptor{
		Name:      name,
		Dir:       dir,
		Artifacts: make(map[string]string, len(requiredArtifacts)),
	}

	var missing []string
	for _, artifact := range requiredArtifacts {
		path := filepath.Join(dir, artifact)
		st, err := os.Stat(path)
		if err != nil || st.IsDir() {
			missing = append(missing, artifact)
			continue
		}
		desc.Artifacts[artifact] = path
	}

	if len(missing) > 0 {
		return nil, &migrate.DescriptorIncompleteError{
			Migration: name,
			Missing:   missing,
		}
	}

	manifest, err := loadManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest for %s: %w", name, err)
	}
	desc.Manifest = manifest

	return desc, nil
}

// BackfillTimeout returns the manifest's backfill timeout if set,
// otherwise the given default.
func (d *Descriptor) BackfillTimeout(def time.Duration) time.Duration {
	if d.Manifest.BackfillTimeout > 0 {
		return d.Manifest.BackfillTimeout
	}
	return def
}

// CleanupDwell returns the manifest's cleanup dwell if set, otherwise
// the given default.
func (d *Descriptor) CleanupDwell(def time.Duration) time.Duration {
	if d.Manifest.CleanupDwell > 0 {
		return d.Manifest.CleanupDwell
	}
	return def
}
