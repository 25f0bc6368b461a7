// Package validation runs the consistency checks that gate cutover.
// The validation artifact compares old-shape and new-shape data and
// prints one line per check; any FAIL marker fails the gate, never a
// warning. The artifact must be read-only against production data and
// deterministic given the same database state.
package validation

import (
	"context"
	"fmt"
	"strings"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/descriptor"
	"github.com/getpup/migrate-orchestrator/executor"
)

// FailMarker is the token that marks a failed check in the report.
const FailMarker = "FAIL"

// Report is the parsed outcome of a validation run.
type Report struct {
	// Passed is false if any check failed.
	Passed bool

	// Checks is every check line the artifact printed, so operators can
	// see what ran, not just a boolean.
	Checks []string

	// Failures is the subset of Checks carrying a FAIL marker.
	Failures []string

	// Raw is the artifact's full output.
	Raw string
}

// Summary renders the report for ledger details: verdict first, then
// the enumerated checks.
func (r Report) Summary() string {
	verdict := "PASS"
	if !r.Passed {
		verdict = FailMarker
	}
	if len(r.Checks) == 0 {
		return fmt.Sprintf("validation %s (no checks enumerated)", verdict)
	}
	return fmt.Sprintf("validation %s: %s", verdict, strings.Join(r.Checks, "; "))
}

// Config holds configuration for the validation Gate.
type Config struct {
	// Runner executes the validation artifact (required).
	Runner executor.Runner

	// Logger is for observability (optional).
	Logger migrate.Logger
}

// Gate decides pass/fail before cutover is permitted.
type Gate struct {
	config Config
}

// New creates a new Gate with the given configuration.
func New(cfg Config) *Gate {
	return &Gate{config: cfg}
}

// Validate runs the validation artifact and parses its report.
// Returns migrate.ErrValidationFailed if any check failed or if the
// artifact itself exited non-zero; the Report is returned in both
// cases so the caller can persist it.
func (g *Gate) Validate(ctx context.Context, desc *descriptor.Descriptor) (Report, error) {
	result, runErr := g.config.Runner.Run(ctx, desc.Artifact(descriptor.ArtifactValidation))
	report := parseReport(result.Output)

	if runErr != nil {
		report.Passed = false
		return report, fmt.Errorf("validation artifact failed: %w", runErr)
	}

	if !report.Passed {
		if g.config.Logger != nil {
			g.config.Logger.Error(ctx, "validation gate failed",
				"migration", desc.Name, "failures", len(report.Failures))
		}
		return report, fmt.Errorf("%d check(s) failed: %w", len(report.Failures), migrate.ErrValidationFailed)
	}

	if g.config.Logger != nil {
		g.config.Logger.Info(ctx, "validation gate passed",
			"migration", desc.Name, "checks", len(report.Checks))
	}
	return report, nil
}

// parseReport splits output into check lines and scans each for the
// FAIL marker. Blank lines are ignored; everything else is part of the
// enumerated report.
func parseReport(output string) Report {
	report := Report{Passed: true, Raw: output}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		report.Checks = append(report.Checks, line)
		if strings.Contains(line, FailMarker) {
			report.Passed = false
			report.Failures = append(report.Failures, line)
		}
	}
	return report
}
