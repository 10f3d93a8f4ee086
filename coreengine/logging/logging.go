// Package logging provides the structured Logger used across the engine and
// its zap-backed implementation.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface for structured logging.
// Fields are alternating key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Bind(fields ...any) Logger
}

// ZapLogger adapts a zap SugaredLogger to Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

// New builds a zap logger at the given level ("DEBUG", "INFO", "WARN", "ERROR").
// development selects the console encoder instead of JSON.
func New(level string, development bool) (*ZapLogger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return NewZapLogger(l), nil
}

// ParseLevel maps a config level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

func (z *ZapLogger) Debug(msg string, keysAndValues ...any) { z.sugar.Debugw(msg, keysAndValues...) }
func (z *ZapLogger) Info(msg string, keysAndValues ...any)  { z.sugar.Infow(msg, keysAndValues...) }
func (z *ZapLogger) Warn(msg string, keysAndValues ...any)  { z.sugar.Warnw(msg, keysAndValues...) }
func (z *ZapLogger) Error(msg string, keysAndValues ...any) { z.sugar.Errorw(msg, keysAndValues...) }

// Bind returns a child logger with the fields attached to every entry.
func (z *ZapLogger) Bind(fields ...any) Logger {
	return &ZapLogger{sugar: z.sugar.With(fields...)}
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return NewZapLogger(zap.NewNop())
}
