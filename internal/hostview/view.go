// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostview provides the per-call view of host state handed to plugins.
package hostview

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aughey/framebridge/pkg/plugin"
)

// State is a snapshot of host state taken at the start of a call.
type State struct {
	Name     string
	Frame    uint64
	Position plugin.Position
}

// ShutdownFunc forwards a shutdown request to the host. It runs under the
// view's lock and must not call back into the bridge.
type ShutdownFunc func()

// Compile-time interface check.
var _ plugin.Interface = (*View)(nil)

// View implements plugin.Interface for a single call. Create one with New and
// call Release when the call returns; after that the view reads as empty and
// ignores shutdown requests.
//
// mu serializes forwarding with Release: once Release returns, the host's
// shutdown function is never called again.
type View struct {
	state    State
	shutdown ShutdownFunc

	mu        sync.Mutex
	requested bool
	expired   atomic.Bool
}

// New creates a view over state. shutdown may be nil, in which case shutdown
// requests are dropped.
func New(state State, shutdown ShutdownFunc) *View {
	return &View{state: state, shutdown: shutdown}
}

// Name returns the host object's name.
func (v *View) Name() string {
	if v.expired.Load() {
		return ""
	}
	return v.state.Name
}

// FrameCounter returns the host frame number.
func (v *View) FrameCounter() uint64 {
	if v.expired.Load() {
		return 0
	}
	return v.state.Frame
}

// Position returns the host object's position.
func (v *View) Position() plugin.Position {
	if v.expired.Load() {
		return plugin.Position{}
	}
	return v.state.Position
}

// RequestShutdown forwards to the host at most once per view.
func (v *View) RequestShutdown() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.expired.Load() {
		slog.Warn("shutdown requested through an expired host view; ignoring",
			"name", v.state.Name,
			"frame", v.state.Frame)
		return
	}
	if v.requested {
		return
	}
	v.requested = true
	if v.shutdown != nil {
		v.shutdown()
	}
}

// Release expires the view, waiting for an in-flight shutdown forward to
// finish. It is safe to call more than once.
func (v *View) Release() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expired.Store(true)
}

// Expired reports whether Release has been called.
func (v *View) Expired() bool {
	return v.expired.Load()
}
