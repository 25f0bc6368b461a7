package executor

import "context"

// Result is the outcome of running one migration artifact.
type Result struct {
	// Output is the artifact's combined stdout and stderr. For the
	// validation artifact this is the report scanned for FAIL markers;
	// for the others it is diagnostic text only.
	Output string
}

// Runner executes a migration artifact as an opaque unit against the
// target database. The orchestrator never parses artifact contents,
// only the returned error (exit status) and, for validation, Output.
// This interface allows for mock implementations in tests.
type Runner interface {
	Run(ctx context.Context, artifactPath string) (Result, error)
}
