// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// library is a Lua standard library considered safe for scripts.
type library struct {
	name string
	open lua.LGFunction
}

// safeLibraries are the libraries opened in every sandbox.
// Blocked: os, io, debug, package, channel, coroutine.
func safeLibraries() []library {
	return []library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// blockedBaseFunctions reach the filesystem or compile arbitrary chunks.
var blockedBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require"}

// Sandbox creates Lua states with only safe libraries and the framebridge
// host module.
type Sandbox struct {
	libraries []library
}

// NewSandbox creates a sandbox with the default safe libraries.
func NewSandbox() *Sandbox {
	return &Sandbox{libraries: safeLibraries()}
}

// NewState returns a fresh sandboxed state bound to ctx. Cancelling ctx
// aborts any script running in the state.
func (s *Sandbox) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range s.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "open library %s", lib.name)
		}
	}

	for _, fn := range blockedBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	registerHostModule(L)
	L.SetContext(ctx)
	return L, nil
}

// registerHostModule installs the framebridge table:
//
//	framebridge.log(level, msg)  -- level is debug, info, warn or error
//	framebridge.api_version      -- the bridge API version string
func registerHostModule(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "log", L.NewFunction(hostLog))
	L.SetField(mod, "api_version", lua.LString(bridgeAPIVersion()))
	L.SetGlobal("framebridge", mod)
}

func hostLog(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)

	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.Log(L.Context(), lvl, msg, "source", "lua")
	return 0
}
