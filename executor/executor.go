// Package executor runs migration artifacts. Artifacts are opaque
// executables with a database connection supplied through the
// environment; the orchestrator is agnostic to what tool enacts each
// phase (psql, a compiled binary, a shell wrapper).
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	migrate "github.com/getpup/migrate-orchestrator"
)

// Config configures the command runner.
type Config struct {
	// DatabaseURL is passed to artifacts as DATABASE_URL (required).
	// It is never logged; diagnostic output carries the redacted form.
	DatabaseURL string

	// RedisAddr is passed to artifacts as MIGRATE_REDIS_ADDR so backfill
	// procedures can publish progress (optional).
	RedisAddr string

	// RunID is passed to artifacts as MIGRATE_RUN_ID (optional).
	RunID string

	// StatementTimeout bounds each artifact invocation except backfill,
	// which the backfill monitor bounds itself (default: 5m).
	StatementTimeout time.Duration

	// Logger is for observability (optional).
	Logger migrate.Logger
}

// CommandRunner executes artifacts as subprocesses.
type CommandRunner struct {
	config Config
}

// Compile-time check that CommandRunner implements Runner.
var _ Runner = (*CommandRunner)(nil)

// New creates a new CommandRunner with the given configuration.
// Applies a default StatementTimeout if zero.
func New(cfg Config) *CommandRunner {
	if cfg.StatementTimeout == 0 {
		cfg.StatementTimeout = 5 * time.Minute
	}
	return &CommandRunner{config: cfg}
}

type runIDKey struct{}

// ContextWithRunID returns a context carrying the run ID for artifact
// execution. It overrides the runner's configured RunID, so components
// sharing one runner still tag artifacts with the right run.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

type noStatementTimeoutKey struct{}

// ContextWithoutStatementTimeout returns a context exempting the
// artifact from the per-invocation statement timeout. The backfill
// monitor runs its artifact under this exemption: a backfill is bounded
// by its own wall-clock budget, not the per-statement ceiling.
func ContextWithoutStatementTimeout(ctx context.Context) context.Context {
	return context.WithValue(ctx, noStatementTimeoutKey{}, true)
}

// Run executes the artifact at artifactPath and waits for it to exit.
// A non-zero exit status is returned as an error carrying the combined
// output, so operators see exactly what the artifact printed.
func (r *CommandRunner) Run(ctx context.Context, artifactPath string) (Result, error) {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if exempt, _ := ctx.Value(noStatementTimeoutKey{}).(bool); !exempt {
		runCtx, cancel = context.WithTimeout(ctx, r.config.StatementTimeout)
	}
	defer cancel()

	runID := r.config.RunID
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		runID = id
	}

	cmd := exec.CommandContext(runCtx, artifactPath)
	cmd.Env = append(os.Environ(),
		"DATABASE_URL="+r.config.DatabaseURL,
		"MIGRATE_REDIS_ADDR="+r.config.RedisAddr,
		"MIGRATE_RUN_ID="+runID,
	)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if r.config.Logger != nil {
		r.config.Logger.Debug(ctx, "running artifact", "artifact", artifactPath)
	}

	err := cmd.Run()
	result := Result{Output: buf.String()}

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return result, fmt.Errorf("artifact %s exceeded statement timeout %s", artifactPath, r.config.StatementTimeout)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if err != nil {
		return result, fmt.Errorf("artifact %s failed: %w (output: %s)", artifactPath, err, buf.String())
	}

	return result, nil
}

// WithRunID returns a copy of the runner bound to a run ID, so every
// artifact a run executes sees the same MIGRATE_RUN_ID.
func (r *CommandRunner) WithRunID(runID string) *CommandRunner {
	cfg := r.config
	cfg.RunID = runID
	return &CommandRunner{config: cfg}
}
