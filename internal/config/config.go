// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads framebridge configuration.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML file, FRAMEBRIDGE_* environment variables (a double underscore
// separates nesting levels, so FRAMEBRIDGE_BUS__ADDR sets bus.addr), and
// command-line flags that were set explicitly.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/aughey/framebridge/internal/bridge"
	"github.com/aughey/framebridge/internal/executor"
	"github.com/aughey/framebridge/internal/logging"
	"github.com/aughey/framebridge/internal/plugin"
	pluginlua "github.com/aughey/framebridge/internal/plugin/lua"
	"github.com/aughey/framebridge/internal/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRAMEBRIDGE_"

// EnvConfigFile names the variable holding the config file path for
// processes without a command line, such as the shared library.
const EnvConfigFile = EnvPrefix + "CONFIG"

// Config is the complete framebridge configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Executor ExecutorConfig `koanf:"executor"`
	Bus      BusConfig      `koanf:"bus"`
	Plugin   PluginConfig   `koanf:"plugin"`
	Metrics  MetricsConfig  `koanf:"metrics"`

	effective map[string]any
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ExecutorConfig configures the shared task runtime.
type ExecutorConfig struct {
	PoolSize         int           `koanf:"pool_size"`
	DrainBudget      time.Duration `koanf:"drain_budget"`
	MaxDrainBatch    int           `koanf:"max_drain_batch"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
	IdleExpiry       time.Duration `koanf:"idle_expiry"`
	ConstructTimeout time.Duration `koanf:"construct_timeout"`
}

// BusConfig configures the Redis message bus used by the telemetry plugin.
type BusConfig struct {
	Addr            string        `koanf:"addr"`
	Password        string        `koanf:"password"`
	DB              int           `koanf:"db"`
	CommandChannel  string        `koanf:"command_channel"`
	FrameChannel    string        `koanf:"frame_channel"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
	PublishRate     float64       `koanf:"publish_rate"`
	PublishBurst    int           `koanf:"publish_burst"`
	InboxSize       int           `koanf:"inbox_size"`
}

// PluginConfig selects the plugin kind built for every instance.
type PluginConfig struct {
	Kind string    `koanf:"kind"`
	Lua  LuaConfig `koanf:"lua"`
}

// LuaConfig configures the Lua plugin kind.
type LuaConfig struct {
	Path   string `koanf:"path"`
	Source string `koanf:"source"`
}

// MetricsConfig configures the observability server. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// defaults holds every key with its default. Durations are strings so the
// effective config prints readably.
func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "json",

		"executor.pool_size":         executor.DefaultPoolSize,
		"executor.drain_budget":      executor.DefaultDrainBudget.String(),
		"executor.max_drain_batch":   executor.DefaultMaxDrainBatch,
		"executor.shutdown_timeout":  executor.DefaultShutdownTimeout.String(),
		"executor.idle_expiry":       executor.DefaultIdleExpiry.String(),
		"executor.construct_timeout": bridge.DefaultConstructTimeout.String(),

		"bus.addr":             telemetry.DefaultAddr,
		"bus.password":         "",
		"bus.db":               0,
		"bus.command_channel":  telemetry.DefaultCommandChannel,
		"bus.frame_channel":    telemetry.DefaultFrameChannel,
		"bus.connect_attempts": telemetry.DefaultConnectAttempts,
		"bus.connect_backoff":  telemetry.DefaultConnectBackoff.String(),
		"bus.publish_rate":     0.0,
		"bus.publish_burst":    1,
		"bus.inbox_size":       telemetry.DefaultInboxSize,

		"plugin.kind":       plugin.KindTelemetry,
		"plugin.lua.path":   "",
		"plugin.lua.source": "",

		"metrics.addr": "",
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"log-level":                  "log.level",
	"log-format":                 "log.format",
	"executor-pool-size":         "executor.pool_size",
	"executor-drain-budget":      "executor.drain_budget",
	"executor-shutdown-timeout":  "executor.shutdown_timeout",
	"executor-construct-timeout": "executor.construct_timeout",
	"bus-addr":                   "bus.addr",
	"bus-command-channel":        "bus.command_channel",
	"bus-frame-channel":          "bus.frame_channel",
	"bus-publish-rate":           "bus.publish_rate",
	"plugin":                     "plugin.kind",
	"lua-script":                 "plugin.lua.path",
	"metrics-addr":               "metrics.addr",
}

// RegisterFlags defines the config flags on fs. Only flags the user sets
// override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.Int("executor-pool-size", executor.DefaultPoolSize, "max concurrently running background tasks (negative = unbounded)")
	fs.Duration("executor-drain-budget", executor.DefaultDrainBudget, "max time spent running continuations per tick")
	fs.Duration("executor-shutdown-timeout", executor.DefaultShutdownTimeout, "how long shutdown waits for background tasks")
	fs.Duration("executor-construct-timeout", bridge.DefaultConstructTimeout, "how long a plugin factory may block")
	fs.String("bus-addr", telemetry.DefaultAddr, "Redis address for the telemetry plugin")
	fs.String("bus-command-channel", telemetry.DefaultCommandChannel, "channel commands are received on")
	fs.String("bus-frame-channel", telemetry.DefaultFrameChannel, "channel frames are published on")
	fs.Float64("bus-publish-rate", 0, "max frame messages per second per instance (0 = every frame)")
	fs.String("plugin", plugin.KindTelemetry, "plugin kind to build for each instance")
	fs.String("lua-script", "", "Lua script path for the lua plugin kind")
	fs.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty), the environment, and the explicitly set flags in fs (if
// non-nil). The result is validated.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.In("config").Wrapf(err, "load defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("path", path).Wrapf(err, "load config file")
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.In("config").Wrapf(err, "load environment")
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			if f.Value.Type() == "duration" {
				return key, f.Value.String()
			}
			return key, posflag.FlagVal(fs, f)
		}), nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "load flags")
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.In("config").Wrapf(err, "decode config")
	}
	cfg.effective = k.Raw()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads configuration for processes without a command line:
// the file named by FRAMEBRIDGE_CONFIG (if set) plus the environment.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvConfigFile), nil)
}

// envKey maps FRAMEBRIDGE_BUS__ADDR to bus.addr. The config file variable
// is not a config key and is skipped.
func envKey(s string) string {
	if s == EnvConfigFile {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("INVALID_CONFIG").In("config").With("key", "log.level").Wrap(err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Executor.PoolSize == 0 {
		return invalid("executor.pool_size", "must not be zero")
	}
	if c.Executor.DrainBudget <= 0 {
		return invalid("executor.drain_budget", "must be positive")
	}
	if c.Executor.MaxDrainBatch <= 0 {
		return invalid("executor.max_drain_batch", "must be positive")
	}
	if c.Executor.ShutdownTimeout <= 0 {
		return invalid("executor.shutdown_timeout", "must be positive")
	}
	if c.Executor.ConstructTimeout <= 0 {
		return invalid("executor.construct_timeout", "must be positive")
	}
	if c.Bus.PublishRate < 0 {
		return invalid("bus.publish_rate", "must not be negative")
	}
	if c.Bus.ConnectAttempts == 0 {
		return invalid("bus.connect_attempts", "must be at least 1")
	}
	if c.Plugin.Kind == "" {
		return invalid("plugin.kind", "is required")
	}
	if c.Plugin.Kind == plugin.KindLua && c.Plugin.Lua.Path == "" && c.Plugin.Lua.Source == "" {
		return invalid("plugin.lua", "lua plugin needs plugin.lua.path or plugin.lua.source")
	}
	return nil
}

func invalid(key, format string, args ...any) error {
	return oops.Code("INVALID_CONFIG").In("config").With("key", key).Errorf(key+" "+format, args...)
}

// ExecutorConfig returns the executor settings.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		PoolSize:        c.Executor.PoolSize,
		DrainBudget:     c.Executor.DrainBudget,
		MaxDrainBatch:   c.Executor.MaxDrainBatch,
		ShutdownTimeout: c.Executor.ShutdownTimeout,
		IdleExpiry:      c.Executor.IdleExpiry,
	}
}

// PluginSettings returns the settings handed to the plugin catalog.
func (c *Config) PluginSettings() plugin.Settings {
	return plugin.Settings{
		Kind: c.Plugin.Kind,
		Telemetry: telemetry.Config{
			Addr:            c.Bus.Addr,
			Password:        c.Bus.Password,
			DB:              c.Bus.DB,
			CommandChannel:  c.Bus.CommandChannel,
			FrameChannel:    c.Bus.FrameChannel,
			ConnectAttempts: c.Bus.ConnectAttempts,
			ConnectBackoff:  c.Bus.ConnectBackoff,
			PublishRate:     c.Bus.PublishRate,
			PublishBurst:    c.Bus.PublishBurst,
			InboxSize:       c.Bus.InboxSize,
		},
		Lua: pluginlua.Config{
			Path:   c.Plugin.Lua.Path,
			Source: c.Plugin.Lua.Source,
		},
	}
}

// LoggingOptions returns logging options for service at version.
func (c *Config) LoggingOptions(service, version string) logging.Options {
	return logging.Options{
		Service: service,
		Version: version,
		Format:  c.Log.Format,
		Level:   c.Log.Level,
	}
}

// YAML renders the effective configuration. The bus password is masked.
func (c *Config) YAML() ([]byte, error) {
	out := c.effective
	if out == nil {
		out = map[string]any{}
	}
	if bus, ok := out["bus"].(map[string]any); ok {
		if pw, _ := bus["password"].(string); pw != "" {
			masked := make(map[string]any, len(bus))
			for k, v := range bus {
				masked[k] = v
			}
			masked["password"] = "********"
			copied := make(map[string]any, len(out))
			for k, v := range out {
				copied[k] = v
			}
			copied["bus"] = masked
			out = copied
		}
	}
	data, err := yamlv3.Marshal(out)
	if err != nil {
		return nil, oops.In("config").Wrapf(err, "render config")
	}
	return data, nil
}
