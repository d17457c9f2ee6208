package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"info level", "info", zerolog.InfoLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"error level", "error", zerolog.ErrorLevel},
		{"upper case", "WARN", zerolog.WarnLevel},
		{"invalid level", "chatty", zerolog.InfoLevel},
		{"default level", "", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetForTesting()
			t.Cleanup(ResetForTesting)

			var buf bytes.Buffer
			Setup(Config{
				Level:      tt.level,
				Output:     &buf,
				TimeFormat: time.RFC3339,
			})

			l := Get()
			require.NotNil(t, l)
			assert.Equal(t, tt.expected, l.GetLevel())
		})
	}
}

func TestSetup_OnlyFirstCallWins(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	var first, second bytes.Buffer
	Setup(Config{Level: "info", Output: &first, Format: FormatJSON})
	Setup(Config{Level: "debug", Output: &second, Format: FormatJSON})

	Get().Info("hello")
	assert.Contains(t, first.String(), `"message":"hello"`)
	assert.Empty(t, second.String())
}

func TestForceSetup_ReplacesLogger(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	var first, second bytes.Buffer
	Setup(Config{Level: "info", Output: &first, Format: FormatJSON})
	ForceSetup(Config{Level: "info", Output: &second, Format: FormatJSON})

	Get().Info("after force")
	assert.NotContains(t, first.String(), "after force")
	assert.Contains(t, second.String(), "after force")
}

func TestFieldHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf, Format: FormatJSON})

	l.Warn("commit failed", map[string]interface{}{
		"op":      "end",
		"elapsed": 32,
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "commit failed", entry["message"])
	assert.Equal(t, "end", entry["op"])
	assert.EqualValues(t, 32, entry["elapsed"])
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "info", Output: &buf, Format: FormatJSON})

	assert.Same(t, base, base.WithFields(nil))
	assert.Same(t, base, base.With(map[string]interface{}{}))

	child := base.Component("tracker")
	child.Info("tick")
	assert.Contains(t, buf.String(), `"component":"tracker"`)
	assert.Equal(t, base.GetLevel(), child.GetLevel())
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("x")
		l.Warn("x")
		l.Debug("x")
		l.Error("x")
		l.Infof("%d", 1)
	})
	assert.Equal(t, zerolog.NoLevel, l.GetLevel())
}

func TestContextRoundTrip(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	l := Nop()
	ctx := NewContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))

	assert.Equal(t, context.Background(), NewContext(context.Background(), nil))

	fallback := Nop()
	assert.Same(t, fallback, FromContextOr(context.Background(), fallback))
	assert.Same(t, l, FromContextOr(ctx, fallback))
}

func TestParseLogFormat(t *testing.T) {
	assert.Equal(t, FormatConsole, ParseLogFormat("console"))
	assert.Equal(t, FormatConsole, ParseLogFormat(" Pretty "))
	assert.Equal(t, FormatJSON, ParseLogFormat("json"))
	assert.Equal(t, FormatJSON, ParseLogFormat("whatever"))
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Output: &buf, Format: FormatConsole})
	l.Info("console line")
	assert.True(t, strings.Contains(buf.String(), "console line"))
	assert.False(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
}
