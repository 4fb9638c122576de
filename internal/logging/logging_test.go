package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupJSON(t *testing.T) {
	assert := assert.New(t)
	var buf bytes.Buffer

	logger := Setup(&buf, "debug", "json")
	logger.Debug("resolved provider", "issuer", "https://op.example")

	var entry map[string]any
	assert.NoError(json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal("resolved provider", entry["msg"])
	assert.Equal("https://op.example", entry["issuer"])
}

func TestSetupTextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := Setup(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(slog.LevelInfo, ParseLevel("loud"))
}
