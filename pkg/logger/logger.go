// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package logger owns the process-wide zerolog logger and the helpers that
// carry a request-scoped logger through context.
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type loggerKey struct{}

var globalLogger zerolog.Logger

func init() {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	pname, err := os.Executable()
	if err != nil {
		pname = "zaparray"
	}

	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	globalLogger = zerolog.New(os.Stderr).With().
		Timestamp().
		Str("hostname", hostname).
		Str("executable", filepath.Base(pname)).
		Caller().
		Logger().
		Level(level)

	log.Logger = globalLogger
}

// Ctx returns the logger stored in ctx, or the global logger when there is none.
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &globalLogger
	}
	if l, ok := ctx.Value(loggerKey{}).(*zerolog.Logger); ok && l != nil {
		return l
	}
	return &globalLogger
}

func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// With returns ctx carrying a child of its logger with the field set.
func With(ctx context.Context, key, value string) context.Context {
	l := Ctx(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, &l)
}

// SetLevel updates the global log level
func SetLevel(level zerolog.Level) {
	globalLogger = globalLogger.Level(level)
	log.Logger = globalLogger
}

// SetOutput redirects the global logger, switching to human readable console
// output when pretty is set.
func SetOutput(w io.Writer, pretty bool) {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	globalLogger = globalLogger.Output(w)
	log.Logger = globalLogger
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return globalLogger.Fatal()
}

// Error logs an error message
func Error() *zerolog.Event {
	return globalLogger.Error()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return globalLogger.Warn()
}

// Info logs an info message
func Info() *zerolog.Event {
	return globalLogger.Info()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return globalLogger.Debug()
}
