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

	"github.com/epiphany-db/monitor/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "ParseLevel(%q)", tt.in)
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "info", "json"))

	logger.Debug("hidden")
	logger.Info("observer registered", "observers", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug record should be filtered at info level")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "observer registered", rec["msg"])
	assert.Equal(t, float64(3), rec["observers"])
}

func TestNewHandler_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "debug", "text"))

	WithObserver(logger, "abc", "127.0.0.1:5000").Debug("send failed")

	out := buf.String()
	assert.Contains(t, out, "observer_id=abc")
	assert.Contains(t, out, "remote_addr=127.0.0.1:5000")
	assert.Contains(t, out, "level=DEBUG")
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.log")

	logger, closer := New(config.LogConfig{Level: "info", Format: "text", File: path, MaxSizeMB: 1})
	logger.Info("tick skipped")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tick skipped")
}

func TestNew_NoFileSink(t *testing.T) {
	_, closer := New(config.LogConfig{Level: "info", Format: "text"})
	assert.NoError(t, closer.Close())
}
