// Package logging builds the logr.Logger used across sidekick, backed by zap.
package logging

import (
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel names the environment variable that overrides the log level.
// Sidecars are spawned with it set to "error" to keep backend chatter out of
// the parent's stderr.
const EnvLevel = "SIDEKICK_LOG_LEVEL"

// New returns a JSON logger writing to stderr. Stdout is reserved for the
// sidecar protocol, so nothing here may write to it.
func New(name, level string) logr.Logger {
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}
	return zapr.NewLogger(zl).WithName(name)
}

// parseLevel maps a level name to zap. "debug" enables logr V(1).
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
