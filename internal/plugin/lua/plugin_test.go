// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aughey/framebridge/internal/executor"
	"github.com/aughey/framebridge/internal/hostview"
	"github.com/aughey/framebridge/pkg/errutil"
	"github.com/aughey/framebridge/pkg/plugin"
)

func newExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	e, err := executor.New(executor.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func newPlugin(t *testing.T, src string) *Plugin {
	t.Helper()
	p, err := New(context.Background(), newExecutor(t), Config{Source: src})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func frameView(frame uint64, shutdown hostview.ShutdownFunc) *hostview.View {
	return hostview.New(hostview.State{
		Name:     "sensor",
		Frame:    frame,
		Position: plugin.Position{X: 1, Y: 2, Z: 3},
	}, shutdown)
}

func TestPlugin_OnFrameSeesFrameState(t *testing.T) {
	p := newPlugin(t, `
		function on_frame(frame)
			last = frame.name .. ":" .. frame.counter .. ":" .. (frame.x + frame.y + frame.z)
		end
	`)

	require.NoError(t, p.OnFrame(context.Background(), nil, frameView(9, nil)))
	assert.Equal(t, "sensor:9:6", p.L.GetGlobal("last").String())
}

func TestPlugin_StatePersistsAcrossFrames(t *testing.T) {
	p := newPlugin(t, `
		count = 0
		function on_frame(frame)
			count = count + 1
		end
	`)

	for frame := uint64(1); frame <= 3; frame++ {
		require.NoError(t, p.OnFrame(context.Background(), nil, frameView(frame, nil)))
	}
	assert.Equal(t, "3", p.L.GetGlobal("count").String())
}

func TestPlugin_ShutdownFromScript(t *testing.T) {
	p := newPlugin(t, `
		function on_frame(frame)
			if frame.counter >= 2 then
				frame.shutdown()
			end
		end
	`)

	var requests atomic.Int32
	shutdown := func() { requests.Add(1) }

	require.NoError(t, p.OnFrame(context.Background(), nil, frameView(1, shutdown)))
	assert.Zero(t, requests.Load())
	require.NoError(t, p.OnFrame(context.Background(), nil, frameView(2, shutdown)))
	assert.Equal(t, int32(1), requests.Load())
}

func TestPlugin_ScriptErrorIsFrameError(t *testing.T) {
	p := newPlugin(t, `
		function on_frame(frame)
			if frame.counter == 1 then
				error("bad frame")
			end
			ok = true
		end
	`)

	err := p.OnFrame(context.Background(), nil, frameView(1, nil))
	errutil.AssertErrorCode(t, err, plugin.CodeFrameFailed)
	errutil.AssertErrorContext(t, err, "step", "lua")

	require.NoError(t, p.OnFrame(context.Background(), nil, frameView(2, nil)))
	assert.Equal(t, "true", p.L.GetGlobal("ok").String())
}

func TestNew_LoadsScriptFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function on_frame(frame) end`), 0o600))

	p, err := New(context.Background(), newExecutor(t), Config{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "frame.lua", p.name)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestNew_ConstructionErrors(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		stage string
	}{
		{"no script", Config{}, "read_script"},
		{"missing file", Config{Path: "/nonexistent/frame.lua"}, "read_script"},
		{"syntax error", Config{Source: `function on_frame(`}, "load_script"},
		{"no on_frame", Config{Source: `x = 1`}, "load_script"},
		{"on_frame not a function", Config{Source: `on_frame = 3`}, "load_script"},
		{"unsatisfied api_version", Config{Source: `api_version = ">= 99.0"
			function on_frame(frame) end`}, "api_version"},
		{"invalid api_version", Config{Source: `api_version = "not a version"
			function on_frame(frame) end`}, "api_version"},
		{"non-string api_version", Config{Source: `api_version = 1
			function on_frame(frame) end`}, "api_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(context.Background(), newExecutor(t), tt.cfg)
			require.Error(t, err)
			assert.Nil(t, p)
			errutil.AssertErrorCode(t, err, plugin.CodeConstructionFailed)
			errutil.AssertErrorContext(t, err, "stage", tt.stage)
		})
	}
}

func TestNew_SatisfiedAPIVersion(t *testing.T) {
	p, err := New(context.Background(), newExecutor(t), Config{Source: `
		api_version = "^1.0"
		function on_frame(frame) end
	`})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestNewFactory(t *testing.T) {
	inst, err := NewFactory(Config{Source: `function on_frame(frame) end`})(context.Background(), newExecutor(t))
	require.NoError(t, err)
	_, ok := inst.(*Plugin)
	assert.True(t, ok)
	require.NoError(t, inst.(*Plugin).Close())
}

func TestPlugin_CounterBeyondExactRangeIsString(t *testing.T) {
	p := newPlugin(t, `
		function on_frame(frame)
			kind = type(frame.counter)
			last = tostring(frame.counter)
		end
	`)

	require.NoError(t, p.OnFrame(context.Background(), nil, frameView(1<<53, nil)))
	assert.Equal(t, "number", p.L.GetGlobal("kind").String())

	const big = uint64(1<<53) + 1
	require.NoError(t, p.OnFrame(context.Background(), nil, frameView(big, nil)))
	assert.Equal(t, "string", p.L.GetGlobal("kind").String())
	assert.Equal(t, "9007199254740993", p.L.GetGlobal("last").String())
}
