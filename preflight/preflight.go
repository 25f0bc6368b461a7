// Package preflight runs the gate checks that must pass before a
// migration mutates anything: database connectivity, a load ceiling on
// concurrent active connections, and local disk headroom. The load
// gate is soft and can be overridden with explicit operator
// confirmation; the others are hard failures.
package preflight

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/shirou/gopsutil/v3/disk"
)

// Config holds configuration for the preflight Checker.
type Config struct {
	// DB is the target database connection (required).
	DB *sql.DB

	// MaxActiveConnections is the ceiling on concurrent active
	// connections; above it the soft load gate rejects (default: 50).
	MaxActiveConnections int

	// MinFreeDiskPercent is the minimum free disk on DataPath
	// (default: 10).
	MinFreeDiskPercent float64

	// DataPath is the mount point checked for disk headroom
	// (default: "/").
	DataPath string

	// ConnectRetries is how many times connectivity is retried with
	// exponential backoff before failing (default: 4).
	ConnectRetries uint64

	// Logger is for observability (optional).
	Logger migrate.Logger
}

// CheckResult is the outcome of one preflight check.
type CheckResult struct {
	// Name identifies the check (connectivity, load, disk).
	Name string

	// Passed reports whether the check passed.
	Passed bool

	// Soft marks the check as overridable by operator confirmation.
	Soft bool

	// Detail is human-readable diagnostic text.
	Detail string
}

// Report is the full set of preflight check results.
type Report struct {
	Checks []CheckResult
}

// Summary renders the report as one line per check, for ledger details.
func (r Report) Summary() string {
	lines := make([]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		status := "ok"
		if !c.Passed {
			status = "rejected"
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", c.Name, status, c.Detail))
	}
	return strings.Join(lines, "; ")
}

// Checker runs preflight checks against the target database.
type Checker struct {
	config Config
}

// New creates a new Checker with the given configuration.
// Applies default values for all thresholds if zero.
func New(cfg Config) *Checker {
	if cfg.MaxActiveConnections == 0 {
		cfg.MaxActiveConnections = 50
	}
	if cfg.MinFreeDiskPercent == 0 {
		cfg.MinFreeDiskPercent = 10
	}
	if cfg.DataPath == "" {
		cfg.DataPath = "/"
	}
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = 4
	}
	return &Checker{config: cfg}
}

// Check runs all preflight checks and returns the report. If any hard
// check fails, or the soft load gate fails without allowHighLoad, the
// error wraps migrate.ErrPreflightRejected and names the failing checks.
func (c *Checker) Check(ctx context.Context, allowHighLoad bool) (Report, error) {
	report := Report{
		Checks: []CheckResult{
			c.checkConnectivity(ctx),
			c.checkLoad(ctx),
			c.checkDisk(ctx),
		},
	}

	var failed []string
	for _, check := range report.Checks {
		if check.Passed {
			continue
		}
		if check.Soft && allowHighLoad {
			if c.config.Logger != nil {
				c.config.Logger.Warn(ctx, "soft preflight gate overridden by operator",
					"check", check.Name, "detail", check.Detail)
			}
			continue
		}
		failed = append(failed, check.Name)
	}

	if len(failed) > 0 {
		return report, fmt.Errorf("%w: %s", migrate.ErrPreflightRejected, strings.Join(failed, ", "))
	}
	return report, nil
}

func (c *Checker) checkConnectivity(ctx context.Context) CheckResult {
	ping := func() error { return c.config.DB.PingContext(ctx) }
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.ConnectRetries), ctx)

	if err := backoff.Retry(ping, policy); err != nil {
		return CheckResult{Name: "connectivity", Detail: fmt.Sprintf("database unreachable: %v", err)}
	}
	return CheckResult{Name: "connectivity", Passed: true, Detail: "database reachable"}
}

func (c *Checker) checkLoad(ctx context.Context) CheckResult {
	var active int
	err := c.config.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM pg_stat_activity WHERE state = 'active' AND pid <> pg_backend_pid()`,
	).Scan(&active)
	if err != nil {
		return CheckResult{Name: "load", Soft: true, Detail: fmt.Sprintf("failed to read pg_stat_activity: %v", err)}
	}

	detail := fmt.Sprintf("%d active connections (ceiling %d)", active, c.config.MaxActiveConnections)
	return CheckResult{
		Name:   "load",
		Passed: active <= c.config.MaxActiveConnections,
		Soft:   true,
		Detail: detail,
	}
}

func (c *Checker) checkDisk(ctx context.Context) CheckResult {
	usage, err := disk.UsageWithContext(ctx, c.config.DataPath)
	if err != nil {
		return CheckResult{Name: "disk", Detail: fmt.Sprintf("failed to stat %s: %v", c.config.DataPath, err)}
	}

	free := 100 - usage.UsedPercent
	detail := fmt.Sprintf("%.1f%% free on %s (minimum %.1f%%)", free, c.config.DataPath, c.config.MinFreeDiskPercent)
	return CheckResult{
		Name:   "disk",
		Passed: free >= c.config.MinFreeDiskPercent,
		Detail: detail,
	}
}
