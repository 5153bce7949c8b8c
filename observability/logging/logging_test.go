package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_RenamesCoreFields(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "escrow-market", "test", "debug")
	logger.Debug("connected", "component", "market")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "connected", line["message"])
	assert.Equal(t, "DEBUG", line["severity"])
	assert.Equal(t, "escrow-market", line["service"])
	assert.Equal(t, "test", line["env"])
	assert.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0x44d1...7a79", ShortAddress("0x44d1132FB0d12DcC9dea35c0827AB46102797a79"))
	assert.Equal(t, "0x1234", ShortAddress("0x1234"))
}
