// Package logging builds the zap loggers used across patlas. Components never
// construct loggers themselves; they receive one (or a named child) from the
// entry point, and fall back to a no-op logger when given nil.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"patlas/internal/config"
)

// Build constructs the process logger from configuration.
func Build(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
		zc.ErrorOutputPaths = []string{cfg.File}
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// OrNop returns logger, or a no-op logger when nil. Component constructors
// call this so a zero Config is always usable.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Named returns a child logger tagged with the component name, tolerating a
// nil parent.
func Named(logger *zap.Logger, name string) *zap.Logger {
	return OrNop(logger).Named(name)
}
