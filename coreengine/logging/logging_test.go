package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
		wantErr  bool
	}{
		{"DEBUG", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"Warning", zapcore.WarnLevel, false},
		{"ERROR", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lvl, err := ParseLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expected, lvl)
		})
	}
}

func TestZapLoggerBindAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	bound := logger.Bind("request_id", "req-1")
	bound.Info("router_classified", "decision", "generate", "confidence", 100)
	logger.Debug("plain_debug")

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "router_classified", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "generate", fields["decision"])
	assert.EqualValues(t, 100, fields["confidence"])

	assert.NotContains(t, entries[1].ContextMap(), "request_id")
}

func TestNew(t *testing.T) {
	logger, err := New("WARN", true)
	require.NoError(t, err)
	logger.Info("discarded")

	_, err = New("bogus", false)
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("nothing", "k", "v")
	assert.NotNil(t, logger.Bind("a", 1))
}
