// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aughey/framebridge/internal/bridge"
	"github.com/aughey/framebridge/internal/hostview"
	"github.com/aughey/framebridge/internal/logging"
	"github.com/aughey/framebridge/internal/observability"
	"github.com/aughey/framebridge/internal/plugin"
	"github.com/aughey/framebridge/internal/registry"
	pluginsdk "github.com/aughey/framebridge/pkg/plugin"
)

// runConfig holds the host loop settings for the run command.
type runConfig struct {
	instances int
	interval  time.Duration
	frames    uint64
}

// Validate checks that the configuration is valid.
func (cfg *runConfig) Validate() error {
	if cfg.instances < 1 {
		return fmt.Errorf("instances must be at least 1, got %d", cfg.instances)
	}
	if cfg.interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", cfg.interval)
	}
	return nil
}

// Default values for run command flags.
const (
	defaultInstances = 1
	defaultInterval  = time.Second / 60
	shutdownTimeout  = 10 * time.Second
)

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return newRunCmdWithDeps(nil)
}

func newRunCmdWithDeps(deps *RunDeps) *cobra.Command {
	cfg := &runConfig{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Construct plugin instances and tick them every frame",
		Long: `Construct the configured number of plugin instances and tick each one at
the given interval. The loop ends after --frames frames (0 = unlimited),
when any plugin requests shutdown, or on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}

	cmd.Flags().IntVar(&cfg.instances, "instances", defaultInstances, "number of plugin instances")
	cmd.Flags().DurationVar(&cfg.interval, "interval", defaultInterval, "time between frames")
	cmd.Flags().Uint64Var(&cfg.frames, "frames", 0, "frames to run per instance (0 = until shutdown)")

	return cmd
}

// instance is the host-side state of one simulated plugin instance.
type instance struct {
	handle registry.Handle
	name   string
}

// state returns the host state exposed to the plugin at frame n. The
// instance orbits the origin, one revolution every 360 frames.
func (i instance) state(n uint64) hostview.State {
	angle := float64(n%360) * math.Pi / 180
	radius := 10 * float64(i.handle)
	return hostview.State{
		Name:  i.name,
		Frame: n,
		Position: pluginsdk.Position{
			X: radius * math.Cos(angle),
			Y: radius * math.Sin(angle),
			Z: float64(i.handle),
		},
	}
}

// runWithDeps runs the host loop with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(ctx context.Context, cfg *runConfig, cmd *cobra.Command, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.Catalog == nil {
		deps.Catalog = plugin.NewCatalog()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	conf, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.SetDefault(conf.LoggingOptions("framehost", version)); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	factory, err := deps.Catalog.Factory(conf.PluginSettings())
	if err != nil {
		return err
	}

	b, err := bridge.New(factory,
		bridge.WithExecutorConfig(conf.ExecutorConfig()),
		bridge.WithConstructTimeout(conf.Executor.ConstructTimeout),
	)
	if err != nil {
		return err
	}

	slog.Info("starting frame host",
		"plugin", conf.Plugin.Kind,
		"instances", cfg.instances,
		"interval", cfg.interval,
		"frames", cfg.frames,
	)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	if conf.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(conf.Metrics.Addr, b.Ready)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			_ = b.Close(context.Background())
			return oops.With("addr", conf.Metrics.Addr).Wrapf(err, "failed to start observability server")
		}
		go monitorServerErrors(loopCtx, cancel, obsErrCh, "observability")
		slog.Info("observability server listening", "addr", obsServer.Addr())
	}

	live := constructAll(loopCtx, b, cfg.instances)
	if len(live) == 0 {
		stopAll(b, obsServer, live)
		return oops.Code("NO_INSTANCES").Errorf("no plugin instance could be constructed")
	}

	var (
		requested atomic.Bool
		ticks     atomic.Uint64
	)
	requestShutdown := func() {
		if requested.CompareAndSwap(false, true) {
			slog.Info("plugin requested shutdown")
		}
		cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-loopCtx.Done():
		}
	}()

	start := time.Now()
	g, gctx := errgroup.WithContext(loopCtx)
	for _, inst := range live {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.interval)
			defer ticker.Stop()
			for n := uint64(1); cfg.frames == 0 || n <= cfg.frames; n++ {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
				// Tick errors are logged by the bridge; the instance stays live.
				_ = b.Tick(gctx, inst.handle, inst.state(n), requestShutdown)
				ticks.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("host loop ended with error", "error", err)
	}
	elapsed := time.Since(start)
	cancel()

	stopAll(b, obsServer, live)

	total := ticks.Load()
	cmd.Printf("ran %s frames across %d instances in %s (shutdown requested: %t)\n",
		humanize.Comma(int64(total)), len(live), elapsed.Round(time.Millisecond), requested.Load()) //nolint:gosec // tick counts stay far below MaxInt64
	return nil
}

// constructAll builds n instances with handles 1..n. Failed constructions
// are logged by the bridge and skipped.
func constructAll(ctx context.Context, b *bridge.Bridge, n int) []instance {
	live := make([]instance, 0, n)
	for i := 1; i <= n; i++ {
		inst := instance{
			handle: registry.Handle(i),
			name:   fmt.Sprintf("instance-%d", i),
		}
		if err := b.Construct(ctx, inst.handle); err != nil {
			continue
		}
		b.Initialize(inst.handle)
		live = append(live, inst)
	}
	return live
}

// stopAll sends exit notifications, destroys the instances, and shuts down
// the bridge and observability server.
func stopAll(b *bridge.Bridge, obsServer ObservabilityServer, live []instance) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, inst := range live {
		b.Exit(inst.handle)
		b.Destroy(inst.handle)
	}
	if err := b.Close(shutdownCtx); err != nil {
		slog.Warn("error closing bridge", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
	slog.Info("shutdown complete")
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
