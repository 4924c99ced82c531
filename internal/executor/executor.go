// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package executor provides the task runtime shared by all plugin instances.
//
// Background tasks run on a bounded goroutine pool. Work that must touch
// single-threaded plugin state is handed back through Post and runs on the
// host's tick goroutine when the bridge calls Drain.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/aughey/framebridge/pkg/errutil"
	"github.com/aughey/framebridge/pkg/plugin"
)

// Default executor settings.
const (
	DefaultPoolSize        = 256
	DefaultDrainBudget     = time.Millisecond
	DefaultMaxDrainBatch   = 1024
	DefaultShutdownTimeout = 5 * time.Second
	DefaultIdleExpiry      = 10 * time.Second
)

// Config configures an Executor.
type Config struct {
	// PoolSize caps concurrently running tasks. Negative means unbounded.
	PoolSize int
	// DrainBudget bounds the wall-clock time a single Drain may spend.
	DrainBudget time.Duration
	// MaxDrainBatch bounds the continuations run by a single Drain.
	MaxDrainBatch int
	// ShutdownTimeout bounds how long Close waits for running tasks.
	ShutdownTimeout time.Duration
	// IdleExpiry is how long an idle pool worker lives.
	IdleExpiry time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:        DefaultPoolSize,
		DrainBudget:     DefaultDrainBudget,
		MaxDrainBatch:   DefaultMaxDrainBatch,
		ShutdownTimeout: DefaultShutdownTimeout,
		IdleExpiry:      DefaultIdleExpiry,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PoolSize == 0 {
		c.PoolSize = d.PoolSize
	}
	if c.DrainBudget <= 0 {
		c.DrainBudget = d.DrainBudget
	}
	if c.MaxDrainBatch <= 0 {
		c.MaxDrainBatch = d.MaxDrainBatch
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.IdleExpiry <= 0 {
		c.IdleExpiry = d.IdleExpiry
	}
	return c
}

// Compile-time interface check.
var _ plugin.Setup = (*Executor)(nil)

// Executor runs background tasks and queued continuations.
type Executor struct {
	cfg         Config
	pool        *ants.Pool
	completions *queuepkg.Queue

	// ctx is handed to every task and cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	drainMu sync.Mutex
	closed  atomic.Bool
}

// poolLogger routes pool diagnostics into slog.
type poolLogger struct{}

func (poolLogger) Printf(format string, args ...any) {
	slog.Warn("task pool", "detail", fmt.Sprintf(format, args...))
}

// New creates an executor. A failure here means the process cannot run
// plugins at all.
func New(cfg Config) (*Executor, error) {
	cfg = cfg.withDefaults()

	pool, err := ants.NewPool(cfg.PoolSize,
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(cfg.IdleExpiry),
		ants.WithLogger(poolLogger{}),
	)
	if err != nil {
		return nil, plugin.ErrRuntimeUnavailable(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:         cfg,
		pool:        pool,
		completions: queuepkg.New(int64(cfg.MaxDrainBatch)),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Spawn schedules task on the pool. It never blocks: when the pool is
// saturated it returns a POOL_OVERLOAD error instead of waiting.
func (e *Executor) Spawn(name string, task plugin.Task) error {
	if e.closed.Load() {
		recordTask(OutcomeRejected)
		return plugin.ErrExecutorClosed("spawn")
	}

	id := ulid.Make()
	err := e.pool.Submit(func() {
		e.run(name, id, task)
	})
	switch {
	case err == nil:
		recordTask(OutcomeSpawned)
		return nil
	case errors.Is(err, ants.ErrPoolClosed):
		recordTask(OutcomeRejected)
		return plugin.ErrExecutorClosed("spawn")
	default:
		recordTask(OutcomeRejected)
		return plugin.ErrPoolOverload(name, err)
	}
}

func (e *Executor) run(name string, id ulid.ULID, task plugin.Task) {
	defer func() {
		if r := recover(); r != nil {
			recordTask(OutcomePanicked)
			slog.Error("background task panicked",
				"task", name,
				"task_id", id.String(),
				"panic", r)
		}
	}()

	err := task(e.ctx)
	switch {
	case err == nil:
		recordTask(OutcomeCompleted)
	case errors.Is(err, context.Canceled) && e.ctx.Err() != nil:
		// Shutdown in progress; the task gave up as asked.
		recordTask(OutcomeCompleted)
	default:
		recordTask(OutcomeFailed)
		errutil.LogError(slog.Default(), "background task failed", err,
			"task", name,
			"task_id", id.String())
	}
}

// Post queues fn to run during the next Drain.
func (e *Executor) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	if e.closed.Load() {
		return plugin.ErrExecutorClosed("post")
	}
	if err := e.completions.Put(fn); err != nil {
		return plugin.ErrExecutorClosed("post")
	}
	return nil
}

// Drain yields once so ready tasks can make progress, then runs queued
// continuations until none remain, MaxDrainBatch have run, or DrainBudget
// has elapsed. It never waits for new work and returns the number run.
func (e *Executor) Drain() int {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	start := time.Now()
	runtime.Gosched()

	deadline := start.Add(e.cfg.DrainBudget)
	n := 0
	// Drain is the only consumer, so a non-empty queue cannot block Get.
	for n < e.cfg.MaxDrainBatch && !e.completions.Disposed() && !e.completions.Empty() {
		items, err := e.completions.Get(1)
		if err != nil || len(items) == 0 {
			break
		}
		n++
		if fn, ok := items[0].(func()); ok {
			runContinuation(fn)
		}
		if time.Now().After(deadline) {
			break
		}
	}

	recordDrain(n, time.Since(start))
	return n
}

func runContinuation(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			recordTask(OutcomePanicked)
			slog.Error("continuation panicked", "panic", r)
		}
	}()
	fn()
}

// Block runs fn on the calling goroutine and waits for it. The context
// passed to fn is also cancelled if the executor shuts down.
// Only factories should block; the per-frame Runtime does not expose this.
func (e *Executor) Block(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.closed.Load() {
		return plugin.ErrExecutorClosed("block")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	return fn(ctx)
}

// BlockOn is the value-returning form of Block.
func BlockOn[T any](ctx context.Context, setup plugin.Setup, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := setup.Block(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// Running returns the number of tasks currently executing.
func (e *Executor) Running() int {
	return e.pool.Running()
}

// Pending returns the number of continuations waiting for a drain.
func (e *Executor) Pending() int {
	return int(e.completions.Len())
}

// Closed reports whether Close has been called.
func (e *Executor) Closed() bool {
	return e.closed.Load()
}

// Close cancels the task context, waits up to ShutdownTimeout (or the
// context deadline, if sooner) for running tasks, and discards queued
// continuations. Tasks still running afterwards are abandoned.
// Close is idempotent.
func (e *Executor) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()

	timeout := e.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = max(remaining, 0)
		}
	}

	if err := e.pool.ReleaseTimeout(timeout); err != nil {
		abandoned := e.pool.Running()
		TaskEvents.WithLabelValues(OutcomeAbandoned).Add(float64(abandoned))
		slog.Warn("abandoning background tasks at shutdown",
			"running", abandoned,
			"timeout", timeout,
			"error", err)
	}

	e.drainMu.Lock()
	discarded := e.completions.Dispose()
	e.drainMu.Unlock()
	if len(discarded) > 0 {
		slog.Debug("discarded queued continuations at shutdown", "count", len(discarded))
	}
	return nil
}
