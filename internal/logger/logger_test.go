package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, FormatJSON, "info")

	l.Info("booked", slog.String("slot_id", "s1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "booked", entry["msg"])
	assert.Equal(t, "s1", entry["slot_id"])
	assert.Contains(t, entry, "time")
}

func TestSetup_Text(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "TEXT", "info").Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, FormatJSON, "warn")

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
