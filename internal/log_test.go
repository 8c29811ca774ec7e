package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"ERROR": LogLevelError,
		"warn":  LogLevelWarn,
		"INFO":  LogLevelInfo,
		"Debug": LogLevelDebug,
		"TRACE": LogLevelTrace,
		"":      LogLevelInfo,
		"loud":  LogLevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestLoggerLevels(t *testing.T) {
	l := NewLoggerWithFormat(LogLevelDebug, "json")
	assert.Equal(t, LogLevelDebug, l.GetLevel())

	l.Debug("[Test] visible at debug %d", 1)
	l.Trace("[Test] suppressed %d", 2)
	assert.Equal(t, LogLevelDebug, l.With("run", "abc").GetLevel())

	var nilLogger *Logger
	assert.NotPanics(t, func() { nilLogger.Info("nothing") })
	assert.NotPanics(t, func() { NewNopLogger().Error("dropped") })
}
