package migrate

import "context"

// Logger is the structured logging interface components accept in their
// Config structs. Implementations must be safe for concurrent use.
// A nil Logger is always valid; callers nil-check before logging.
//
// keysAndValues are alternating keys and values, e.g.
// logger.Info(ctx, "phase completed", "runID", id, "phase", phase).
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Warn(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}
