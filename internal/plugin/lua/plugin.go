// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua provides a plugin variant whose per-frame behavior is a
// sandboxed Lua script.
//
// A script defines a global on_frame(frame) function. The frame table
// carries name, counter, x, y and z, plus a shutdown() function that asks
// the host to stop. Lua numbers are float64, so a counter above 2^53 is
// passed as a decimal string instead. A script may set a global api_version to a semver
// constraint that the bridge API version must satisfy.
package lua

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/aughey/framebridge/internal/executor"
	"github.com/aughey/framebridge/pkg/plugin"
)

// Config selects the script to run. Source wins over Path when both are set.
type Config struct {
	Path   string
	Source string
}

// Compile-time interface check.
var _ plugin.Plugin = (*Plugin)(nil)

// Plugin runs a Lua script once per frame. Each instance owns one Lua
// state that persists across frames, so scripts may keep globals.
type Plugin struct {
	name    string
	L       *lua.LState
	onFrame lua.LValue

	closeOnce sync.Once
}

func bridgeAPIVersion() string {
	return plugin.APIVersion
}

// NewFactory returns a plugin.Factory building Lua instances with cfg.
func NewFactory(cfg Config) plugin.Factory {
	return func(ctx context.Context, setup plugin.Setup) (plugin.Plugin, error) {
		return New(ctx, setup, cfg)
	}
}

// New loads and runs the script, checks its api_version constraint, and
// resolves on_frame.
func New(ctx context.Context, setup plugin.Setup, cfg Config) (*Plugin, error) {
	src, err := executor.BlockOn(ctx, setup, func(context.Context) (scriptSource, error) {
		return readScript(cfg)
	})
	if err != nil {
		return nil, plugin.ErrConstruction("read_script", err)
	}
	name, code := src.name, src.code

	L, err := NewSandbox().NewState(ctx)
	if err != nil {
		return nil, plugin.ErrConstruction("sandbox", err)
	}

	if err := L.DoString(code); err != nil {
		L.Close()
		return nil, plugin.ErrConstruction("load_script",
			oops.In("lua").With("script", name).Hint("syntax or runtime error in script body").Wrap(err))
	}

	if err := checkAPIVersion(L.GetGlobal("api_version")); err != nil {
		L.Close()
		return nil, plugin.ErrConstruction("api_version", oops.In("lua").With("script", name).Wrap(err))
	}

	onFrame := L.GetGlobal("on_frame")
	if onFrame.Type() != lua.LTFunction {
		L.Close()
		return nil, plugin.ErrConstruction("load_script",
			oops.In("lua").With("script", name).Errorf("script does not define on_frame(frame)"))
	}

	return &Plugin{name: name, L: L, onFrame: onFrame}, nil
}

type scriptSource struct {
	name string
	code string
}

func readScript(cfg Config) (scriptSource, error) {
	if cfg.Source != "" {
		return scriptSource{name: "inline", code: cfg.Source}, nil
	}
	if cfg.Path == "" {
		return scriptSource{}, oops.In("lua").Hint("set plugin.lua.path or plugin.lua.source").Errorf("no script configured")
	}
	code, err := os.ReadFile(filepath.Clean(cfg.Path))
	if err != nil {
		return scriptSource{}, oops.In("lua").With("path", cfg.Path).Wrap(err)
	}
	return scriptSource{name: filepath.Base(cfg.Path), code: string(code)}, nil
}

func checkAPIVersion(v lua.LValue) error {
	if v.Type() == lua.LTNil {
		return nil
	}
	s, ok := v.(lua.LString)
	if !ok {
		return oops.Errorf("api_version must be a string, got %s", v.Type())
	}
	constraint, err := semver.NewConstraint(string(s))
	if err != nil {
		return oops.With("api_version", string(s)).Wrapf(err, "invalid api_version constraint")
	}
	current := semver.MustParse(plugin.APIVersion)
	if !constraint.Check(current) {
		return oops.With("api_version", string(s)).
			With("bridge_version", plugin.APIVersion).
			Errorf("script requires API %s, bridge provides %s", s, plugin.APIVersion)
	}
	return nil
}

// maxExactCounter is the largest counter a Lua number holds exactly.
const maxExactCounter = 1 << 53

func counterValue(n uint64) lua.LValue {
	if n > maxExactCounter {
		return lua.LString(strconv.FormatUint(n, 10))
	}
	return lua.LNumber(n)
}

// OnFrame calls on_frame(frame). Script errors are frame errors; the
// state stays usable for the next frame.
func (p *Plugin) OnFrame(ctx context.Context, _ plugin.Runtime, view plugin.Interface) error {
	p.L.SetContext(ctx)

	frame := p.L.NewTable()
	pos := view.Position()
	p.L.SetField(frame, "name", lua.LString(view.Name()))
	p.L.SetField(frame, "counter", counterValue(view.FrameCounter()))
	p.L.SetField(frame, "x", lua.LNumber(pos.X))
	p.L.SetField(frame, "y", lua.LNumber(pos.Y))
	p.L.SetField(frame, "z", lua.LNumber(pos.Z))
	p.L.SetField(frame, "shutdown", p.L.NewFunction(func(*lua.LState) int {
		view.RequestShutdown()
		return 0
	}))

	if err := p.L.CallByParam(lua.P{
		Fn:      p.onFrame,
		NRet:    0,
		Protect: true,
	}, frame); err != nil {
		return plugin.ErrFrame("lua", oops.In("lua").With("script", p.name).Wrap(err))
	}
	return nil
}

// Close releases the Lua state. It is idempotent.
func (p *Plugin) Close() error {
	p.closeOnce.Do(p.L.Close)
	return nil
}
