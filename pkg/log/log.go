// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger used across adpool
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
	Sync() error
}

// zapLogger wraps a zap.Logger
type zapLogger struct {
	log *zap.Logger
}

// NewWithLevel creates a console logger; unknown levels fall back to info
func NewWithLevel(level string) Logger {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info":
		lvl = zapcore.InfoLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := config.Build()
	if err != nil {
		return &noOpLogger{}
	}

	return &zapLogger{log: log.Named("adpool")}
}

// FromZap adapts an existing zap logger
func FromZap(log *zap.Logger) Logger {
	if log == nil {
		return &noOpLogger{}
	}
	return &zapLogger{log: log}
}

// NoOp returns a no-op logger
func NoOp() Logger {
	return &noOpLogger{}
}

// NoLog is a no-op logger instance
var NoLog = NoOp()

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.log.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.log.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.log.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.log.Error(msg, fields...) }

// With returns a child logger carrying fields on every entry
func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{log: l.log.With(fields...)}
}

// Sync flushes any buffered log entries
func (l *zapLogger) Sync() error {
	return l.log.Sync()
}

// noOpLogger is a logger that does nothing
type noOpLogger struct{}

func (n *noOpLogger) Debug(string, ...zap.Field) {}
func (n *noOpLogger) Info(string, ...zap.Field)  {}
func (n *noOpLogger) Warn(string, ...zap.Field)  {}
func (n *noOpLogger) Error(string, ...zap.Field) {}
func (n *noOpLogger) With(...zap.Field) Logger   { return n }
func (n *noOpLogger) Sync() error                { return nil }

func String(key, val string) zap.Field {
	return zap.String(key, val)
}

func Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

func Float64(key string, val float64) zap.Field {
	return zap.Float64(key, val)
}

func Stringer(key string, val fmt.Stringer) zap.Field {
	return zap.Stringer(key, val)
}

func Error(err error) zap.Field {
	return zap.Error(err)
}
