// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package telemetry implements a plugin that publishes per-frame host state
// to a Redis channel and accepts control commands from another.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/aughey/framebridge/internal/executor"
	"github.com/aughey/framebridge/internal/fps"
	"github.com/aughey/framebridge/internal/protocol"
	"github.com/aughey/framebridge/pkg/errutil"
	"github.com/aughey/framebridge/pkg/plugin"
)

// Default bus settings.
const (
	DefaultAddr            = "localhost:6379"
	DefaultCommandChannel  = "framebridge/command"
	DefaultFrameChannel    = "framebridge/frame"
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 100 * time.Millisecond
	DefaultInboxSize       = 64
)

// Config configures the telemetry plugin.
type Config struct {
	Addr           string
	Password       string
	DB             int
	CommandChannel string
	FrameChannel   string

	// ConnectAttempts bounds connection retries during construction.
	ConnectAttempts uint64
	// ConnectBackoff is the initial delay between attempts; it doubles each time.
	ConnectBackoff time.Duration

	// PublishRate caps frame messages per second. Zero publishes every frame.
	PublishRate float64
	// PublishBurst is the limiter burst. Values below one are treated as one.
	PublishBurst int

	// InboxSize bounds commands buffered between frames.
	InboxSize int
}

// DefaultConfig returns the default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		CommandChannel:  DefaultCommandChannel,
		FrameChannel:    DefaultFrameChannel,
		ConnectAttempts: DefaultConnectAttempts,
		ConnectBackoff:  DefaultConnectBackoff,
		InboxSize:       DefaultInboxSize,
	}
}

// frameMessage is the JSON published once per frame.
type frameMessage struct {
	Frame    uint64     `json:"frame"`
	Position [3]float64 `json:"position"`
}

// Compile-time interface check.
var _ plugin.Plugin = (*Plugin)(nil)

// Plugin publishes frames and applies bus commands. State other than the
// inbox is only touched from OnFrame.
type Plugin struct {
	id     ulid.ULID
	cfg    Config
	client *redis.Client
	pubsub *redis.PubSub
	parser *protocol.Parser

	inbox   chan []byte
	fps     *fps.Counter
	limiter *rate.Limiter

	speedTest atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewFactory returns a plugin.Factory building telemetry instances with cfg.
func NewFactory(cfg Config) plugin.Factory {
	return func(ctx context.Context, setup plugin.Setup) (plugin.Plugin, error) {
		return New(ctx, setup, cfg)
	}
}

// New connects to the bus, subscribes to the command channel, and starts
// the event loop that feeds the inbox. It blocks until subscribed or until
// the retries run out.
func New(ctx context.Context, setup plugin.Setup, cfg Config) (*Plugin, error) {
	cfg = cfg.withDefaults()
	id := ulid.Make()

	parser, err := protocol.DefaultParser()
	if err != nil {
		return nil, plugin.ErrConstruction("parser", err)
	}

	slog.Info("connecting to message bus", "instance", id.String(), "addr", cfg.Addr)
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pubsub, err := executor.BlockOn(ctx, setup, func(ctx context.Context) (*redis.PubSub, error) {
		return connect(ctx, client, cfg)
	})
	if err != nil {
		_ = client.Close()
		return nil, plugin.ErrConstruction("connect", oops.With("addr", cfg.Addr).Wrap(err))
	}

	p := &Plugin{
		id:     id,
		cfg:    cfg,
		client: client,
		pubsub: pubsub,
		parser: parser,
		inbox:  make(chan []byte, cfg.InboxSize),
		fps:    fps.New(),
	}
	if cfg.PublishRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.PublishRate), max(cfg.PublishBurst, 1))
	}

	if err := setup.Spawn("bus-events", p.forward); err != nil {
		_ = p.Close()
		return nil, plugin.ErrConstruction("spawn", err)
	}

	slog.Info("telemetry plugin ready",
		"instance", id.String(),
		"command_channel", cfg.CommandChannel,
		"frame_channel", cfg.FrameChannel)
	return p, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.CommandChannel == "" {
		c.CommandChannel = d.CommandChannel
	}
	if c.FrameChannel == "" {
		c.FrameChannel = d.FrameChannel
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = d.ConnectAttempts
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = d.ConnectBackoff
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	return c
}

// connect pings with exponential backoff, then subscribes and waits for
// the subscription to be confirmed.
func connect(ctx context.Context, client *redis.Client, cfg Config) (*redis.PubSub, error) {
	backoff := retry.WithMaxRetries(cfg.ConnectAttempts-1, retry.NewExponential(cfg.ConnectBackoff))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Debug("message bus not reachable", "addr", cfg.Addr, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, oops.With("attempts", attempt).Wrapf(err, "ping message bus")
	}

	pubsub := client.Subscribe(ctx, cfg.CommandChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, oops.With("channel", cfg.CommandChannel).Wrapf(err, "subscribe")
	}
	return pubsub, nil
}

// forward moves inbound payloads into the inbox until the pubsub closes or
// the executor shuts down. A full inbox drops the message.
func (p *Plugin) forward(ctx context.Context) error {
	ch := p.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			select {
			case p.inbox <- []byte(msg.Payload):
			default:
				slog.Warn("command inbox full; dropping message",
					"instance", p.id.String(),
					"channel", msg.Channel)
			}
		}
	}
}

// OnFrame applies pending commands and publishes the frame.
func (p *Plugin) OnFrame(ctx context.Context, rt plugin.Runtime, view plugin.Interface) error {
	if perSecond, ok := p.fps.Tick(); ok {
		slog.Info("frame rate", "instance", p.id.String(), "fps", humanize.Comma(int64(perSecond)))
	}

	p.applyCommands(ctx, view)

	if p.speedTest.Load() {
		return nil
	}

	pos := view.Position()
	slog.Debug("frame",
		"instance", p.id.String(),
		"name", view.Name(),
		"frame", view.FrameCounter(),
		"position", pos.Array())

	data, err := json.Marshal(frameMessage{
		Frame:    view.FrameCounter(),
		Position: pos.Array(),
	})
	if err != nil {
		return plugin.ErrFrame("encode", err)
	}

	if p.limiter != nil && !p.limiter.Allow() {
		return nil
	}

	channel := p.cfg.FrameChannel
	if err := rt.Spawn("publish", func(ctx context.Context) error {
		return p.client.Publish(ctx, channel, data).Err()
	}); err != nil {
		return plugin.ErrFrame("publish", err)
	}
	return nil
}

// applyCommands drains the inbox without blocking. Unparseable messages
// are logged and dropped.
func (p *Plugin) applyCommands(ctx context.Context, view plugin.Interface) {
	for {
		var payload []byte
		select {
		case payload = <-p.inbox:
		default:
			return
		}

		cmd, err := p.parser.Parse(payload)
		if err != nil {
			errutil.Log(ctx, slog.Default(), errutil.LevelFor(err), "dropping bus message", err,
				"instance", p.id.String())
			continue
		}

		switch c := cmd.(type) {
		case protocol.ShutdownCommand:
			if c.Shutdown {
				slog.Info("shutdown requested over bus", "instance", p.id.String())
				view.RequestShutdown()
			}
		case protocol.SpeedTestCommand:
			if p.speedTest.Swap(c.SpeedTest) != c.SpeedTest {
				slog.Info("speed test mode changed", "instance", p.id.String(), "enabled", c.SpeedTest)
			}
		}
	}
}

// SpeedTest reports whether speed-test mode is on.
func (p *Plugin) SpeedTest() bool {
	return p.speedTest.Load()
}

// Close unsubscribes and closes the bus connection. It is idempotent.
func (p *Plugin) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := p.client.Close(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			p.closeErr = oops.With("instance", p.id.String()).Join(errs...)
		}
		slog.Info("telemetry plugin closed", "instance", p.id.String())
	})
	return p.closeErr
}
