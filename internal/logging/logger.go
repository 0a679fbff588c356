// Package logging builds the worker's structured logger.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap.Logger with its level set from the
// given string (case-insensitive: debug, info, warn, error). An
// unrecognized level falls back to info and is logged once.
func New(levelStr string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	level, parseErr := zapcore.ParseLevel(strings.ToLower(levelStr))
	if parseErr != nil {
		level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		logger.Warn("logging: unrecognized log_level, defaulting to info",
			zap.String("configured", levelStr))
	}
	return logger, nil
}
