package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSubsystemTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := Subsystem(New("info", &buf), "runner")

	logger.Info("spawned", "pid", 42)
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "subsystem=runner")
	assert.Contains(t, out, "pid=42")
	assert.NotContains(t, out, "hidden")
}
