// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger holds mcpgate's process-wide *slog.Logger.
//
// The handler comes from toolhive-core/logging and always writes to stderr,
// which keeps stdout free for the stdio transport. Components take a child
// logger from [Component] when they are constructed; the printf-style helpers
// are for the CLI layer.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/stacklok/toolhive-core/logging"

	"github.com/stacklok/mcpgate/pkg/config"
)

var (
	singleton atomic.Pointer[slog.Logger]
	// level is shared by every logger built here, so Initialize also
	// applies to child loggers handed out before it ran.
	level slog.LevelVar
)

func init() {
	singleton.Store(newLogger(config.LoggingConfig{Unstructured: true}, nil))
}

// Initialize replaces the process logger with one built from cfg.
func Initialize(cfg config.LoggingConfig) {
	singleton.Store(newLogger(cfg, nil))
}

func newLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	if cfg.Debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := []logging.Option{logging.WithLevel(&level)}
	if cfg.Unstructured {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	}
	if out != nil {
		opts = append(opts, logging.WithOutput(out))
	}
	return logging.New(opts...)
}

// Get returns the process logger.
func Get() *slog.Logger {
	return singleton.Load()
}

// Set replaces the process logger. Tests use it to capture output.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// Component returns a child logger tagged with component=name.
func Component(name string) *slog.Logger {
	return Get().With("component", name)
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) {
	Get().Debug(fmt.Sprintf(format, args...))
}

// Info logs at info level.
func Info(msg string) {
	Get().Info(msg)
}

// Infof logs at info level.
func Infof(format string, args ...any) {
	Get().Info(fmt.Sprintf(format, args...))
}

// Warnf logs at warn level.
func Warnf(format string, args ...any) {
	Get().Warn(fmt.Sprintf(format, args...))
}

// Errorf logs at error level.
func Errorf(format string, args ...any) {
	Get().Error(fmt.Sprintf(format, args...))
}

// Errorw logs at error level with key-value pairs.
func Errorw(msg string, keysAndValues ...any) {
	Get().Error(msg, keysAndValues...)
}
