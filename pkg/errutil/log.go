// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil provides helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/aughey/framebridge/pkg/plugin"
)

// LogError logs an error at error level with structured context if it's an
// oops error. Extra attrs are appended after the error attributes.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	Log(context.Background(), logger, slog.LevelError, msg, err, attrs...)
}

// Log logs err at the given level. For oops errors, it extracts the code,
// context, and hint; for standard errors, it logs the error string.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	fields := []any{"error", err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := plugin.CodeOf(err); code != "" {
			fields = append(fields, "code", code)
		}
		fields = append(fields, "kind", plugin.KindOf(err).String())
		if errCtx := oopsErr.Context(); len(errCtx) > 0 {
			fields = append(fields, "context", errCtx)
		}
		if hint := oopsErr.Hint(); hint != "" {
			fields = append(fields, "hint", hint)
		}
	}
	fields = append(fields, attrs...)
	logger.Log(ctx, level, msg, fields...)
}

// LevelFor returns the log level matching the bridge's continuation policy
// for err. Protocol errors only drop one message, so they log as warnings.
func LevelFor(err error) slog.Level {
	switch plugin.KindOf(err) {
	case plugin.KindProtocol:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
