package validation

import (
	"context"
	"errors"
	"testing"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/descriptor"
	"github.com/getpup/migrate-orchestrator/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor() *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Name: "add-confidence-scoring",
		Artifacts: map[string]string{
			descriptor.ArtifactValidation: "/migrations/add-confidence-scoring/validation",
		},
	}
}

func gateWithOutput(output string, err error) *Gate {
	runner := executor.NewMockRunner()
	runner.RunFunc = func(ctx context.Context, path string) (executor.Result, error) {
		return executor.Result{Output: output}, err
	}
	return New(Config{Runner: runner})
}

func TestValidate_AllChecksPass(t *testing.T) {
	g := gateWithOutput(
		"PASS row count: old=15234 new=15234\n"+
			"PASS checksum leads.email\n"+
			"PASS sampled 500 rows, 0 diffs\n", nil)

	report, err := g.Validate(context.Background(), testDescriptor())
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Len(t, report.Checks, 3, "every check the artifact ran is enumerated")
	assert.Empty(t, report.Failures)
	assert.Contains(t, report.Summary(), "validation PASS")
	assert.Contains(t, report.Summary(), "row count")
}

func TestValidate_FailMarkerFailsGate(t *testing.T) {
	g := gateWithOutput(
		"PASS row count: old=15234 new=15234\n"+
			"FAIL checksum leads.email: mismatch in 3 buckets\n"+
			"PASS sampled 500 rows, 0 diffs\n", nil)

	report, err := g.Validate(context.Background(), testDescriptor())
	assert.ErrorIs(t, err, migrate.ErrValidationFailed)
	assert.False(t, report.Passed)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "checksum leads.email")
	assert.Len(t, report.Checks, 3, "passing checks are still reported alongside the failure")
}

func TestValidate_ArtifactError(t *testing.T) {
	g := gateWithOutput("PASS row count\n", errors.New("connection reset"))

	report, err := g.Validate(context.Background(), testDescriptor())
	require.Error(t, err)
	assert.NotErrorIs(t, err, migrate.ErrValidationFailed, "a crashed artifact is an execution error, not a gate verdict")
	assert.False(t, report.Passed)
}

func TestValidate_Deterministic(t *testing.T) {
	output := "PASS row count\nFAIL checksum\n"
	g := gateWithOutput(output, nil)

	ctx := context.Background()
	first, err1 := g.Validate(ctx, testDescriptor())
	second, err2 := g.Validate(ctx, testDescriptor())

	assert.Equal(t, first.Passed, second.Passed, "same database state yields the same verdict")
	assert.Equal(t, first.Failures, second.Failures)
	assert.ErrorIs(t, err1, migrate.ErrValidationFailed)
	assert.ErrorIs(t, err2, migrate.ErrValidationFailed)
}

func TestParseReport_EmptyOutput(t *testing.T) {
	report := parseReport("")
	assert.True(t, report.Passed)
	assert.Empty(t, report.Checks)
	assert.Contains(t, report.Summary(), "no checks enumerated")
}
