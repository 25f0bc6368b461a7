package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_EmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, false)

	logger.Info(context.Background(), "phase completed", "runID", "run-1", "phase", "backfill", "progress", 63)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "phase completed", entry["message"])
	assert.Equal(t, "run-1", entry["runID"])
	assert.Equal(t, "backfill", entry["phase"])
	assert.Equal(t, float64(63), entry["progress"])
	assert.Equal(t, "info", entry["level"])
}

func TestAdapter_DebugSuppressedUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, false)

	logger.Debug(context.Background(), "phase record appended")
	assert.Empty(t, buf.Bytes())

	verbose := NewJSON(&buf, true)
	verbose.Debug(context.Background(), "phase record appended")
	assert.NotEmpty(t, buf.Bytes())
}

func TestAdapter_WarnAndErrorLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, false)

	logger.Warn(context.Background(), "soft gate overridden")
	logger.Error(context.Background(), "phase failed", "error", "deadlock detected")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var warn, errEntry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &warn))
	require.NoError(t, json.Unmarshal(lines[1], &errEntry))
	assert.Equal(t, "warn", warn["level"])
	assert.Equal(t, "error", errEntry["level"])
	assert.Equal(t, "deadlock detected", errEntry["error"])
}

func TestAdapter_OddKeyValueCountTolerated(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, false)

	logger.Info(context.Background(), "lopsided", "runID")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "runID", entry["!BADKEY"])
}
