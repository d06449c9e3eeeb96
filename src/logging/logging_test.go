package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"www.github.com/Wanderer0074348/SemCache/src/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&config.LogConfig{Level: "info", Format: "json"}, &buf)

	logger.Debug("hidden")
	logger.Info("evicted", "removed", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "evicted", line["msg"])
	assert.Equal(t, "semcache", line["service"])
	assert.Equal(t, 3.0, line["removed"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&config.LogConfig{Level: "debug", Format: "text"}, &buf)
	logger.Debug("lookup", "hit", true)
	assert.Contains(t, buf.String(), "msg=lookup")
	assert.Contains(t, buf.String(), "hit=true")
}
