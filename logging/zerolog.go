// Package logging adapts zerolog to the orchestrator's Logger
// interface. Components stay decoupled from the logging backend; only
// the CLI wires this adapter in.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/rs/zerolog"
)

// Adapter implements migrate.Logger on top of a zerolog.Logger.
type Adapter struct {
	logger zerolog.Logger
}

// Compile-time check that Adapter implements migrate.Logger.
var _ migrate.Logger = (*Adapter)(nil)

// New wraps an existing zerolog.Logger.
func New(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// NewConsole creates an adapter writing human-readable output to
// stderr. verbose lowers the level from info to debug.
func NewConsole(verbose bool) *Adapter {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return &Adapter{logger: zerolog.New(writer).Level(level).With().Timestamp().Logger()}
}

// NewJSON creates an adapter writing JSON lines to w.
func NewJSON(w io.Writer, verbose bool) *Adapter {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return &Adapter{logger: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// Debug implements the migrate.Logger interface.
func (a *Adapter) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	a.emit(a.logger.Debug(), msg, keysAndValues)
}

// Info implements the migrate.Logger interface.
func (a *Adapter) Info(ctx context.Context, msg string, keysAndValues ...any) {
	a.emit(a.logger.Info(), msg, keysAndValues)
}

// Warn implements the migrate.Logger interface.
func (a *Adapter) Warn(ctx context.Context, msg string, keysAndValues ...any) {
	a.emit(a.logger.Warn(), msg, keysAndValues)
}

// Error implements the migrate.Logger interface.
func (a *Adapter) Error(ctx context.Context, msg string, keysAndValues ...any) {
	a.emit(a.logger.Error(), msg, keysAndValues)
}

// emit attaches key/value pairs to the event. A trailing key without a
// value is logged under the "!BADKEY" field rather than dropped.
func (a *Adapter) emit(event *zerolog.Event, msg string, keysAndValues []any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		event = event.Interface(key, keysAndValues[i+1])
	}
	if len(keysAndValues)%2 != 0 {
		event = event.Interface("!BADKEY", keysAndValues[len(keysAndValues)-1])
	}
	event.Msg(msg)
}
