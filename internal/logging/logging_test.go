package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestSetup_RenamesKeysAndTagsService(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	logger, closer, err := Setup(Options{Service: "basket-engine", Env: "test", Level: "debug", Stdout: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("operation committed", "op", "invest")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "DEBUG", line["severity"])
	assert.Equal(t, "operation committed", line["message"])
	assert.Equal(t, "basket-engine", line["service"])
	assert.Equal(t, "test", line["env"])
	assert.Equal(t, "invest", line["op"])
	assert.Contains(t, line, "timestamp")
	assert.NotContains(t, line, "msg")
}

func TestSetup_LevelFilters(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	logger, _, err := Setup(Options{Service: "svc", Level: "warn", Stdout: &buf})
	require.NoError(t, err)

	logger.Info("quiet")
	assert.Zero(t, buf.Len())
	logger.Warn("loud")
	assert.Contains(t, buf.String(), `"severity":"WARN"`)
}

func TestSetup_WritesRotatedFile(t *testing.T) {
	restoreDefault(t)
	path := filepath.Join(t.TempDir(), "engine.log")
	var buf bytes.Buffer
	logger, closer, err := Setup(Options{Service: "svc", File: path, Stdout: &buf})
	require.NoError(t, err)

	logger.Info("persisted")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"message":"persisted"`))
	assert.Equal(t, buf.String(), string(data))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
