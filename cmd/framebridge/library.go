// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/aughey/framebridge/internal/bridge"
	"github.com/aughey/framebridge/internal/config"
	"github.com/aughey/framebridge/internal/hostview"
	"github.com/aughey/framebridge/internal/logging"
	"github.com/aughey/framebridge/internal/plugin"
	"github.com/aughey/framebridge/internal/registry"
	"github.com/aughey/framebridge/pkg/errutil"
	pluginsdk "github.com/aughey/framebridge/pkg/plugin"
)

const shutdownTimeout = 10 * time.Second

// Version information set at build time.
var version = "dev"

func main() {}

// library holds the process-wide bridge behind the exported functions.
// Nothing it does may panic across the C boundary.
type library struct {
	mu     sync.Mutex
	bridge *bridge.Bridge
	open   func() (*bridge.Bridge, error)
	fatal  func(error)
}

func newLibrary(open func() (*bridge.Bridge, error)) *library {
	return &library{
		open:  open,
		fatal: exitFatal,
	}
}

// openBridge builds a bridge from the environment configuration.
func openBridge() (*bridge.Bridge, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if err := logging.SetDefault(cfg.LoggingOptions("framebridge", version)); err != nil {
		return nil, err
	}
	factory, err := plugin.NewCatalog().Factory(cfg.PluginSettings())
	if err != nil {
		return nil, err
	}
	return bridge.New(factory,
		bridge.WithExecutorConfig(cfg.ExecutorConfig()),
		bridge.WithConstructTimeout(cfg.Executor.ConstructTimeout),
	)
}

// exitFatal terminates the host process. There is no way to report an
// unusable runtime through the ABI.
func exitFatal(err error) {
	errutil.LogError(slog.Default(), "framebridge cannot continue", err)
	os.Exit(2)
}

// get returns the bridge, opening it on first use. A bridge that cannot be
// opened is fatal.
func (l *library) get() *bridge.Bridge {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bridge != nil {
		return l.bridge
	}
	b, err := l.open()
	if err != nil {
		l.fatal(oops.Code(pluginsdk.CodeRuntimeUnavailable).In("framebridge").Wrapf(err, "open bridge"))
		return nil
	}
	l.bridge = b
	return b
}

// guard recovers a panic in an exported call and logs it.
func guard(op string, h registry.Handle) {
	if r := recover(); r != nil {
		slog.Error("panic in host callback", "operation", op, "handle", h, "panic", r)
	}
}

func (l *library) initialize() {
	defer guard("framebridge_initialize", 0)
	l.get()
}

func (l *library) construct(h registry.Handle) {
	defer guard("plugin_constructor", h)

	b := l.get()
	if b == nil {
		return
	}
	if err := b.Construct(context.Background(), h); err != nil && pluginsdk.KindOf(err) == pluginsdk.KindFatal {
		l.fatal(err)
	}
}

func (l *library) destroy(h registry.Handle) {
	defer guard("plugin_destructor", h)
	if b := l.current(); b != nil {
		b.Destroy(h)
	}
}

func (l *library) notifyInitialize(h registry.Handle) {
	defer guard("plugin_on_initialize", h)
	if b := l.current(); b != nil {
		b.Initialize(h)
	}
}

func (l *library) frame(h registry.Handle, state hostview.State, shutdown hostview.ShutdownFunc) {
	defer guard("plugin_on_frame", h)
	if b := l.current(); b != nil {
		// Errors were logged by the bridge.
		_ = b.Tick(context.Background(), h, state, shutdown)
	}
}

func (l *library) notifyExit(h registry.Handle) {
	defer guard("plugin_on_exit", h)
	if b := l.current(); b != nil {
		b.Exit(h)
	}
}

// shutdown closes the bridge. A later construction opens a fresh one.
func (l *library) shutdown() {
	defer guard("framebridge_shutdown", 0)

	l.mu.Lock()
	b := l.bridge
	l.bridge = nil
	l.mu.Unlock()
	if b == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		errutil.LogError(slog.Default(), "framebridge shutdown incomplete", err)
	}
}

// current returns the open bridge without opening one. Callbacks for
// instances that were never constructed need no bridge.
func (l *library) current() *bridge.Bridge {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bridge
}
