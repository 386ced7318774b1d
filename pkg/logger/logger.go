// Package logger provides the process-wide leveled logger.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines a simple interface for logging.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// level is shared by every logger built in this package so that
// SetGlobalLogLevel also affects loggers handed out earlier.
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

var base = build("info")

var std Logger = base.Sugar()

// parseLevel maps "debug", "info", "warn", "error", "fatal" to a zap level.
// Unknown strings fall back to info.
func parseLevel(logLevel string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(logLevel))); err != nil {
		return zap.InfoLevel
	}
	return l
}

func build(logLevel string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if parseLevel(logLevel) == zap.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// NewLogger creates a standalone Logger at the given level.
// loglevel could be "debug", "info", "warn", "error", "fatal"
func NewLogger(logLevel string) Logger {
	cfg := zap.NewProductionConfig()
	if parseLevel(logLevel) == zap.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(logLevel))
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// SetGlobalLogLevel reconfigures the global logger's level.
// Switching to or from debug also swaps the encoder.
func SetGlobalLogLevel(logLevel string) {
	l := parseLevel(logLevel)
	wasDebug := level.Level() == zap.DebugLevel
	level.SetLevel(l)
	if wasDebug != (l == zap.DebugLevel) {
		base = build(logLevel)
		std = base.Sugar()
	}
}

// Zap returns the structured logger behind the global facade. Components
// that log with typed fields take this instead of the sugared facade.
func Zap() *zap.Logger {
	return base.WithOptions(zap.AddCallerSkip(-1))
}

// Sync flushes buffered log entries.
func Sync() error {
	return base.Sync()
}

// Debug logs a debug message using the global std logger.
func Debug(args ...interface{}) {
	std.Debug(args...)
}

// Debugf logs a debug message with formatting.
func Debugf(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

// Info logs an informational message using the global std logger.
func Info(args ...interface{}) {
	std.Info(args...)
}

// Infof logs an informational message with formatting.
func Infof(format string, args ...interface{}) {
	std.Infof(format, args...)
}

// Warn logs a warning.
func Warn(args ...interface{}) {
	std.Warn(args...)
}

// Warnf logs a warning with formatting.
func Warnf(format string, args ...interface{}) {
	std.Warnf(format, args...)
}

// Error logs an error message.
func Error(args ...interface{}) {
	std.Error(args...)
}

// Errorf logs an error message with formatting.
func Errorf(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

// Fatal logs a fatal error message and exits.
func Fatal(args ...interface{}) {
	std.Fatal(args...)
}

// Fatalf logs a fatal error message with formatting and exits.
func Fatalf(format string, args ...interface{}) {
	std.Fatalf(format, args...)
}
