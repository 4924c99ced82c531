// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin defines the contract between the frame bridge and plugin
// implementations.
//
// A plugin is constructed once per host instance by a Factory, then called
// once per host tick through OnFrame. The host-facing ABI never reaches
// plugin code directly: the bridge translates each ABI call into these
// interfaces.
package plugin

import (
	"context"
)

// APIVersion is the version of this contract. Scripted plugins may declare
// a semver constraint against it.
const APIVersion = "1.2.0"

// Position is a point in host space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Array returns the position as an [x, y, z] triple.
func (p Position) Array() [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}

// Interface is a read-only view of host state for a single call, plus the
// ability to ask the host to shut down.
//
// A view is only valid until the call it was passed to returns. Do not
// capture it in spawned tasks; copy the values you need instead.
type Interface interface {
	// Name returns the host object's name.
	Name() string

	// FrameCounter returns the host frame number. It never decreases.
	FrameCounter() uint64

	// Position returns the host object's position.
	Position() Position

	// RequestShutdown asks the host to stop. Calling it more than once is safe.
	RequestShutdown()
}

// Task is a unit of asynchronous work. The context is cancelled when the
// runtime shuts down.
type Task func(ctx context.Context) error

// Runtime is the non-blocking half of the execution context, available on
// every frame.
type Runtime interface {
	// Spawn schedules task to run in the background. It never blocks.
	Spawn(name string, task Task) error

	// Post queues fn to run on the host's tick goroutine during the next drain.
	Post(fn func()) error
}

// Setup is the execution context as seen by a Factory. Unlike Runtime it
// can block, which is only acceptable during construction.
type Setup interface {
	Runtime

	// Block runs fn on the calling goroutine and waits for it to finish.
	Block(ctx context.Context, fn func(ctx context.Context) error) error
}

// Plugin is implemented by every plugin instance.
type Plugin interface {
	// OnFrame runs one frame of work. Returning an error skips the rest of
	// the frame for this instance; the instance stays alive.
	OnFrame(ctx context.Context, rt Runtime, view Interface) error
}

// Factory builds a plugin instance. It may block on setup (for example to
// establish a required connection); a non-nil error aborts construction.
type Factory func(ctx context.Context, setup Setup) (Plugin, error)

// Initializer is implemented by plugins that want the host's initialize
// notification.
type Initializer interface {
	OnInitialize(ctx context.Context) error
}

// Exiter is implemented by plugins that want the host's exit notification.
type Exiter interface {
	OnExit(ctx context.Context) error
}
