package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/domain"
)

func newPretty(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewPrettyHandler(buf, &slog.HandlerOptions{Level: level}))
}

func TestNew_DefaultWriter(t *testing.T) {
	logger := New(Config{Level: slog.LevelInfo, Format: "json"})
	assert.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
}

func TestNew_CustomWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Writer: &buf})
	logger.Info("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), `"level":"INFO"`)
}

func TestNew_FormatAutoDetection(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantJSON    bool
	}{
		{"production uses json", "production", true},
		{"development uses pretty", "development", false},
		{"staging uses pretty", "staging", false},
		{"empty uses pretty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Writer: &buf, Environment: tt.environment, Level: slog.LevelInfo})
			logger.Info("hello")

			isJSON := strings.HasPrefix(strings.TrimSpace(buf.String()), "{")
			assert.Equal(t, tt.wantJSON, isJSON)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	ctx := context.Background()

	assert.False(t, h.Enabled(ctx, slog.LevelDebug))
	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestNewPrettyHandler_NilOptions(t *testing.T) {
	h := NewPrettyHandler(&bytes.Buffer{}, nil)
	require.NotNil(t, h)
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestPrettyHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	log := newPretty(&buf, slog.LevelDebug)

	log.Info("run completed", "entity_type", "artist", "created", 3)

	out := buf.String()
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "run completed")
	assert.Contains(t, out, "entity_type=artist")
	assert.Contains(t, out, "created=3")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestPrettyHandler_LevelFormatting(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "DBG"},
		{slog.LevelInfo, "INF"},
		{slog.LevelWarn, "WRN"},
		{slog.LevelError, "ERR"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var buf bytes.Buffer
			newPretty(&buf, slog.LevelDebug).Log(context.Background(), tt.level, "msg")
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	str, color := formatLevel(slog.LevelWarn + 2)
	assert.Equal(t, (slog.LevelWarn + 2).String(), str)
	assert.Equal(t, colorGray, color)
}

func TestPrettyHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := newPretty(&buf, slog.LevelInfo).With("run_id", "run-abc")

	log.Info("first")
	log.Info("second", "record_id", "42")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "run_id=run-abc")
	assert.Contains(t, lines[1], "run_id=run-abc")
	assert.Contains(t, lines[1], "record_id=42")
}

func TestPrettyHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	log := newPretty(&buf, slog.LevelInfo).With("run_id", "r1").WithGroup("counts")

	log.Info("done", "created", 2, slog.Group("deleted", "tombstones", 1))

	out := buf.String()
	assert.Contains(t, out, "run_id=r1")
	assert.NotContains(t, out, "counts.run_id")
	assert.Contains(t, out, "counts.created=2")
	assert.Contains(t, out, "counts.deleted.tombstones=1")
}

func TestPrettyHandler_WithSource(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{AddSource: true}))
	log.Info("with source")

	assert.Contains(t, buf.String(), "logger_test.go:")
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "plain", formatValue(slog.StringValue("plain")))
	assert.Equal(t, `"two words"`, formatValue(slog.StringValue("two words")))
	assert.Equal(t, `""`, formatValue(slog.StringValue("")))
	assert.Equal(t, "2024-03-01T12:00:00Z", formatValue(slog.TimeValue(ts)))
	assert.Equal(t, "1.5s", formatValue(slog.DurationValue(1500*time.Millisecond)))
	assert.Equal(t, "42", formatValue(slog.Int64Value(42)))
	assert.Equal(t, "true", formatValue(slog.BoolValue(true)))
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "json", Level: slog.LevelInfo})

	WithRun(logger.Logger, "run-xyz", domain.EntityRelease).Info("started")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-xyz"`)
	assert.Contains(t, out, `"entity_type":"release"`)

	// A nil logger is tolerated.
	WithRun(nil, "run-xyz", domain.EntityLabel).Info("dropped")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "json", Level: slog.LevelWarn})

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("shown warn")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown warn")
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	stored := newPretty(&buf, slog.LevelInfo)

	ctx := IntoContext(context.Background(), stored)
	assert.Same(t, stored, FromContext(ctx, nil))

	fallback := newPretty(&bytes.Buffer{}, slog.LevelInfo)
	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	// No logger and no fallback still yields a usable logger.
	l := FromContext(context.Background(), nil)
	require.NotNil(t, l)
	l.Info("dropped")
}

func TestOrDiscard(t *testing.T) {
	require.NotNil(t, OrDiscard(nil))

	l := Discard()
	assert.Same(t, l, OrDiscard(l))
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
