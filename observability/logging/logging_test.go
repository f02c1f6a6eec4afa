package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger, closer := SetupWithOptions(Options{Service: "lendingd", Env: "test", Level: "debug", Output: &buf})
	defer closer.Close()
	logger.Debug("position committed", slog.String("account", "0xabc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "position committed", line["message"])
	require.Contains(t, line, "timestamp")
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger, _ := SetupWithOptions(Options{Service: "lendingd", Level: "warn", Output: &buf})
	logger.Info("ignored")
	require.Zero(t, buf.Len())
}

func TestSetupWritesRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "lendingd.log")
	logger, closer := SetupWithOptions(Options{Service: "lendingd", File: path, Output: &buf})
	logger.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"hello"`)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("HMACSecret", "abc").Value.String())
	require.Equal(t, RedactedValue, MaskField("journal_dsn", "file:x").Value.String())
	require.Equal(t, "", MaskField("jwt_token", "").Value.String())
	require.Equal(t, "0xabc", MaskField("account", "0xabc").Value.String())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}
