package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level LogLevel
		want  int
	}{
		{"trace logs everything", LogLevelTrace, 5},
		{"debug", LogLevelDebug, 4},
		{"info", LogLevelInfo, 3},
		{"warn", LogLevelWarn, 2},
		{"error", LogLevelError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			log := NewSlogLogger(&buf, tt.level, time.UTC)

			log.Trace("t")
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")

			assert.Len(t, decodeLines(t, &buf), tt.want)
		})
	}
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelInfo, time.UTC).Module("thermal").Module("probe")

	log.With(String("probe", "vcgencmd")).Info("Temperature sampled",
		Float64("temp_c", 62.34567),
		Int("samples", 3),
		Duration("interval", 5*time.Second),
		Error(fmt.Errorf("x")),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	rec := lines[0]
	assert.Equal(t, "thermal.probe", rec["module"])
	assert.Equal(t, "vcgencmd", rec["probe"])
	assert.InDelta(t, 62.346, rec["temp_c"], 0.0001)
	assert.InDelta(t, 3, rec["samples"], 0)
	assert.Equal(t, "5s", rec["interval"])
	assert.Equal(t, "x", rec["error"])
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelInfo, nil)

	log.WithContext(WithTraceID(context.Background(), "abc123")).Info("request")
	log.WithContext(context.Background()).Info("no trace")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "abc123", lines[0]["trace_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestTextHandlerFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := slog.New(newTextHandler(&buf, slog.LevelInfo, nil))
	l.Info("Recording started", "module", "recorder", "path", "/tmp/a b.mp4", "event", "motion")
	l.Debug("hidden")

	assert.Equal(t, "INFO [recorder] Recording started path=\"/tmp/a b.mp4\" event=motion\n", buf.String())
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, traceLevelValue, parseLogLevel("trace"))
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "motioncam.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"motion": "warn"},
	})
	require.NoError(t, err)

	cl.Module("recorder").Debug("written")
	cl.Module("motion").Info("filtered by module level")
	cl.Module("motion").Warn("written too")
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"module":"recorder"`)
	assert.Contains(t, lines[1], `"msg":"written too"`)
}

func TestCentralLoggerConsoleAndFileKeepOwnLevels(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "motioncam.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "error"},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "info"},
	})
	require.NoError(t, err)
	_, fanout := cl.baseHandler.(*slog.MultiHandler)
	require.True(t, fanout, "console and file share one handler")

	log := cl.Module("thermal")
	log.Debug("below both outputs")
	log.Info("file only", String("state", "normal"))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"file only"`)
	assert.Contains(t, lines[0], `"state":"normal"`)
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestApplyConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := &LoggingConfig{}
	applyConfigDefaults(cfg)

	assert.Equal(t, DefaultLogLevel, cfg.DefaultLevel)
	require.NotNil(t, cfg.Console)
	assert.True(t, cfg.Console.Enabled)
	require.NotNil(t, cfg.FileOutput)
	assert.Equal(t, DefaultLogPath, cfg.FileOutput.Path)
	assert.NotNil(t, cfg.ModuleLevels)
}
