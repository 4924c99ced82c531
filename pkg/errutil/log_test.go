// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aughey/framebridge/pkg/errutil"
	"github.com/aughey/framebridge/pkg/plugin"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	return logEntry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("TEST_ERROR").
		With("key", "value").
		Hint("try again").
		Errorf("something failed")

	errutil.LogError(logger, "operation failed", err, "handle", 42)

	logEntry := decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "operation failed", logEntry["msg"])
	assert.Equal(t, "TEST_ERROR", logEntry["code"])
	assert.Equal(t, "try again", logEntry["hint"])
	assert.Equal(t, float64(42), logEntry["handle"])
	errCtx, ok := logEntry["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "value", errCtx["key"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	logEntry := decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
	assert.NotContains(t, logEntry, "code")
}

func TestLog_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	errutil.Log(context.Background(), logger, slog.LevelInfo, "ignored", errors.New("quiet"))
	assert.Zero(t, buf.Len())

	errutil.Log(context.Background(), logger, slog.LevelWarn, "dropped message", plugin.ErrProtocol("no schema", []byte("{}")))
	logEntry := decodeEntry(t, &buf)
	assert.Equal(t, "WARN", logEntry["level"])
	assert.Equal(t, plugin.CodeProtocolError, logEntry["code"])
	assert.Equal(t, "protocol", logEntry["kind"])
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, errutil.LevelFor(plugin.ErrProtocol("bad", nil)))
	assert.Equal(t, slog.LevelError, errutil.LevelFor(plugin.ErrFrame("publish", errors.New("x"))))
	assert.Equal(t, slog.LevelError, errutil.LevelFor(errors.New("plain")))
	assert.Equal(t, slog.LevelError, errutil.LevelFor(plugin.ErrFrame("commands", plugin.ErrProtocol("bad", nil))),
		"a frame failure is not downgraded by a protocol cause")
}
