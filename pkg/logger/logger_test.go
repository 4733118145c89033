package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerLevels(t *testing.T) {
	for _, tc := range []struct {
		name          string
		expectedLevel zapcore.Level
		log           func(l Logger, msg string)
	}{
		{name: "debug", expectedLevel: zapcore.DebugLevel, log: func(l Logger, msg string) { l.Debug(msg) }},
		{name: "info", expectedLevel: zapcore.InfoLevel, log: func(l Logger, msg string) { l.Info(msg) }},
		{name: "warn", expectedLevel: zapcore.WarnLevel, log: func(l Logger, msg string) { l.Warn(msg) }},
		{name: "error", expectedLevel: zapcore.ErrorLevel, log: func(l Logger, msg string) { l.Error(msg) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			observerCore, logs := observer.New(zap.DebugLevel)
			dut := &ZapLogger{zap.New(observerCore)}

			tc.log(dut, "message")

			entries := logs.TakeAll()
			require.Len(t, entries, 1)
			require.Equal(t, tc.expectedLevel, entries[0].Level)
			require.Equal(t, "message", entries[0].Message)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("should_reject_unknown_levels", func(t *testing.T) {
		_, err := NewLogger("json", "loud")
		require.Error(t, err)
	})

	t.Run("should_return_noop_for_level_none", func(t *testing.T) {
		l, err := NewLogger("json", "none")
		require.NoError(t, err)
		require.NotNil(t, l)
	})

	t.Run("should_build_text_and_json_loggers", func(t *testing.T) {
		for _, format := range []string{"text", "json"} {
			l, err := NewLogger(format, "info")
			require.NoError(t, err)
			require.NotNil(t, l)
		}
	})
}
