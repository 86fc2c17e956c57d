// Package logging builds the process logger: a zap core behind an slog
// front end.
package logging

import (
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	// Development selects zap's console encoder; otherwise output is JSON.
	Development bool
	Level       string
}

// New returns an slog logger backed by zap and the zap logger itself, so
// the caller can Sync it on shutdown.
func New(opts Options) (*slog.Logger, *zap.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var zc zap.Config
	if opts.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zl, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building zap logger: %w", err)
	}
	return slog.New(zapslog.NewHandler(zl.Core())), zl, nil
}

// Setup builds the logger and installs it as slog's default.
func Setup(opts Options) (*slog.Logger, func(), error) {
	logger, zl, err := New(opts)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, func() { _ = zl.Sync() }, nil
}

// NewWithCore wraps an existing core; tests use it with zaptest/observer.
func NewWithCore(core zapcore.Core) *slog.Logger {
	return slog.New(zapslog.NewHandler(core))
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
