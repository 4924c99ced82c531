// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package bridge connects the host's per-instance callbacks to plugin
// instances and the shared task runtime.
//
// Lock order: the executor guard (execMu) is always taken before the
// registry's own lock. Ticks and destroys hold execMu for their whole
// duration, so no two of them ever overlap.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aughey/framebridge/internal/executor"
	"github.com/aughey/framebridge/internal/hostview"
	"github.com/aughey/framebridge/internal/registry"
	"github.com/aughey/framebridge/pkg/errutil"
	"github.com/aughey/framebridge/pkg/plugin"
)

var tracer = otel.Tracer("framebridge/bridge")

// DefaultConstructTimeout bounds how long a factory may block.
const DefaultConstructTimeout = 10 * time.Second

// Bridge owns the registry of live instances and the lazily created
// executor they share.
type Bridge struct {
	factory          plugin.Factory
	execCfg          executor.Config
	constructTimeout time.Duration

	execMu sync.Mutex
	exec   *executor.Executor
	closed bool

	instances *registry.Registry
}

// Option configures a Bridge during construction.
type Option func(*Bridge)

// WithExecutorConfig sets the configuration used when the executor is
// first created.
func WithExecutorConfig(cfg executor.Config) Option {
	return func(b *Bridge) {
		b.execCfg = cfg
	}
}

// WithConstructTimeout bounds how long a factory may block during
// construction. Non-positive values keep the default.
func WithConstructTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.constructTimeout = d
		}
	}
}

// New creates a bridge that builds instances with factory. The executor is
// not created until the first construction.
func New(factory plugin.Factory, opts ...Option) (*Bridge, error) {
	if factory == nil {
		return nil, oops.Code("INVALID_FACTORY").Errorf("plugin factory is required")
	}
	b := &Bridge{
		factory:          factory,
		execCfg:          executor.DefaultConfig(),
		constructTimeout: DefaultConstructTimeout,
		instances:        registry.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// runtime is the per-frame view of the executor. It has no Block.
type runtime struct {
	exec *executor.Executor
}

func (r runtime) Spawn(name string, task plugin.Task) error { return r.exec.Spawn(name, task) }
func (r runtime) Post(fn func()) error                      { return r.exec.Post(fn) }

// executorLocked returns the shared executor, creating it on first use.
// Caller must hold execMu.
func (b *Bridge) executorLocked() (*executor.Executor, error) {
	if b.closed {
		return nil, plugin.ErrExecutorClosed("construct")
	}
	if b.exec != nil {
		return b.exec, nil
	}
	exec, err := executor.New(b.execCfg)
	if err != nil {
		return nil, err
	}
	b.exec = exec
	slog.Debug("executor created",
		"pool_size", b.execCfg.PoolSize,
		"drain_budget", b.execCfg.DrainBudget)
	return exec, nil
}

// Construct builds a plugin instance for h and registers it. The factory
// runs outside the executor guard and may block up to the construct
// timeout. On failure nothing is registered.
// If h is already registered, the new instance replaces the old one and
// the old one is closed.
func (b *Bridge) Construct(ctx context.Context, h registry.Handle) (err error) {
	ctx, span := tracer.Start(ctx, "bridge.construct",
		trace.WithAttributes(attribute.String("handle", h.String())),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	b.execMu.Lock()
	exec, err := b.executorLocked()
	b.execMu.Unlock()
	if err != nil {
		// RUNTIME_UNAVAILABLE stays fatal; the host must stop.
		if plugin.KindOf(err) != plugin.KindFatal {
			err = plugin.ErrConstruction("executor", err)
		}
		RecordConstruction(StatusFailed)
		errutil.LogError(slog.Default(), "cannot construct plugin instance", err, "handle", h)
		return err
	}

	buildCtx, cancel := context.WithTimeout(ctx, b.constructTimeout)
	defer cancel()

	p, err := b.build(buildCtx, exec)
	if err != nil {
		RecordConstruction(StatusFailed)
		errutil.LogError(slog.Default(), "plugin construction failed", err, "handle", h)
		return err
	}

	b.execMu.Lock()
	if b.closed {
		b.execMu.Unlock()
		closeInstance(h, p)
		RecordConstruction(StatusFailed)
		return plugin.ErrConstruction("register", plugin.ErrExecutorClosed("construct"))
	}
	displaced, replaced := b.instances.Insert(h, p)
	Instances.Set(float64(b.instances.Len()))
	b.execMu.Unlock()

	if replaced {
		RecordConstruction(StatusReplaced)
		closeInstance(h, displaced)
	} else {
		RecordConstruction(StatusOK)
	}
	slog.Info("plugin instance constructed", "handle", h, "replaced", replaced)
	return nil
}

func (b *Bridge) build(ctx context.Context, setup plugin.Setup) (p plugin.Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = plugin.ErrConstruction("factory", oops.Errorf("panic: %v", r))
		}
	}()

	p, err = b.factory(ctx, setup)
	if err != nil {
		if plugin.KindOf(err) == plugin.KindConstruction {
			return nil, err
		}
		return nil, plugin.ErrConstruction("factory", err)
	}
	if p == nil {
		return nil, plugin.ErrConstruction("factory", oops.Errorf("factory returned no instance"))
	}
	return p, nil
}

// Destroy removes and closes the instance registered under h. Unknown
// handles are ignored.
func (b *Bridge) Destroy(h registry.Handle) {
	b.execMu.Lock()
	defer b.execMu.Unlock()

	p, ok := b.instances.Remove(h)
	if !ok {
		slog.Debug("destroy for unknown handle", "handle", h)
		return
	}
	Instances.Set(float64(b.instances.Len()))
	closeInstance(h, p)
	slog.Info("plugin instance destroyed", "handle", h)
}

// Tick runs one frame for the instance registered under h, then drains
// pending continuations. Unknown handles are skipped silently.
// The returned error has already been logged; it is informational.
func (b *Bridge) Tick(ctx context.Context, h registry.Handle, state hostview.State, shutdown hostview.ShutdownFunc) (err error) {
	start := time.Now()

	b.execMu.Lock()
	defer b.execMu.Unlock()

	p, ok := b.instances.Find(h)
	if !ok || b.exec == nil {
		RecordTick(StatusUnknownHandle, time.Since(start))
		return nil
	}

	ctx, span := tracer.Start(ctx, "bridge.tick",
		trace.WithAttributes(
			attribute.String("handle", h.String()),
			attribute.Int64("frame", int64(state.Frame)), //nolint:gosec // frame counters stay far below MaxInt64
		),
	)
	defer span.End()

	view := hostview.New(state, shutdown)
	status := StatusOK
	err = callFrame(ctx, p, runtime{exec: b.exec}, view)
	view.Release()

	if err != nil {
		status = StatusError
		if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Context()["step"] == "panic" {
			status = StatusPanic
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		errutil.Log(ctx, slog.Default(), errutil.LevelFor(err), "frame failed", err,
			"handle", h,
			"frame", state.Frame)
	}

	drained := b.exec.Drain()
	span.SetAttributes(attribute.Int("drained", drained))
	RecordTick(status, time.Since(start))
	return err
}

func callFrame(ctx context.Context, p plugin.Plugin, rt plugin.Runtime, view plugin.Interface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = plugin.ErrFrame("panic", oops.Errorf("%v", r))
		}
	}()

	err = p.OnFrame(ctx, rt, view)
	if err == nil {
		return nil
	}
	if plugin.CodeOf(err) != "" {
		return err
	}
	return plugin.ErrFrame("on_frame", err)
}

// Initialize forwards the host's initialize notification to h if its
// instance implements plugin.Initializer.
func (b *Bridge) Initialize(h registry.Handle) {
	b.notify(h, "initialize", func(p plugin.Plugin) error {
		if i, ok := p.(plugin.Initializer); ok {
			return i.OnInitialize(context.Background())
		}
		return nil
	})
}

// Exit forwards the host's exit notification to h if its instance
// implements plugin.Exiter.
func (b *Bridge) Exit(h registry.Handle) {
	b.notify(h, "exit", func(p plugin.Plugin) error {
		if x, ok := p.(plugin.Exiter); ok {
			return x.OnExit(context.Background())
		}
		return nil
	})
}

func (b *Bridge) notify(h registry.Handle, event string, fn func(plugin.Plugin) error) {
	b.execMu.Lock()
	defer b.execMu.Unlock()

	p, ok := b.instances.Find(h)
	if !ok {
		return
	}
	slog.Debug("host notification", "event", event, "handle", h)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = oops.Errorf("panic: %v", r)
			}
		}()
		return fn(p)
	}()
	if err != nil {
		errutil.Log(context.Background(), slog.Default(), slog.LevelWarn,
			fmt.Sprintf("%s notification failed", event), err, "handle", h)
	}
}

// Len returns the number of live instances.
func (b *Bridge) Len() int {
	return b.instances.Len()
}

// Handles returns the live handles in construction order.
func (b *Bridge) Handles() []registry.Handle {
	return b.instances.Handles()
}

// Ready reports whether the executor exists and is accepting work.
func (b *Bridge) Ready() bool {
	b.execMu.Lock()
	defer b.execMu.Unlock()
	return !b.closed && b.exec != nil && !b.exec.Closed()
}

// Close destroys every live instance, then shuts the executor down.
// After Close, constructions fail and ticks are ignored. Close is idempotent.
func (b *Bridge) Close(ctx context.Context) error {
	b.execMu.Lock()
	defer b.execMu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	handles := b.instances.Handles()
	dropped := b.instances.Drain()
	for i, p := range dropped {
		closeInstance(handles[i], p)
	}
	Instances.Set(0)

	if b.exec == nil {
		return nil
	}
	if err := b.exec.Close(ctx); err != nil {
		return oops.With("operation", "close_executor").Wrap(err)
	}
	slog.Info("bridge closed", "instances_dropped", len(dropped))
	return nil
}

// closeInstance releases p if it owns resources.
func closeInstance(h registry.Handle, p plugin.Plugin) {
	c, ok := p.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		errutil.LogError(slog.Default(), "failed to close plugin instance", err, "handle", h)
	}
}
