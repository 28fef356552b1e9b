// Package logging provides the process logger and file-based capture of
// failing unit output.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide sugared logger at the given level.
// Output goes to stderr so it never interleaves with progress rendering on
// stdout.
func NewLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// NewNopLogger returns a logger that discards everything. Used in tests and
// as a fallback before configuration is parsed.
func NewNopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
