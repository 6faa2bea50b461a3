package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	out := &bytes.Buffer{}
	l := New(Config{Level: "warn", Format: "json", writer: out})

	l.Info("dropped")
	l.Warn("slot reclaimed", slog.String("job_id", "job_01"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "slot reclaimed", entry["msg"])
	assert.Equal(t, "job_01", entry["job_id"])
}

func TestNewConsole(t *testing.T) {
	out := &bytes.Buffer{}
	l := New(Config{Level: "debug", Format: "console", NoColor: true, writer: out})

	l.Debug("claimed", slog.Int("attempt", 2))

	assert.Contains(t, out.String(), "DBG")
	assert.Contains(t, out.String(), "claimed")
	assert.Contains(t, out.String(), "attempt=2")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.level))
		})
	}
}
