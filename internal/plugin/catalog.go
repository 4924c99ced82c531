// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin maps configured plugin kinds to factories.
package plugin

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"

	pluginlua "github.com/aughey/framebridge/internal/plugin/lua"
	"github.com/aughey/framebridge/internal/telemetry"
	pluginsdk "github.com/aughey/framebridge/pkg/plugin"
)

// Built-in plugin kinds.
const (
	KindTelemetry = "telemetry"
	KindLua       = "lua"
	KindNoop      = "noop"
)

// Settings carries the configuration of every built-in kind. Builders read
// only the part they need.
type Settings struct {
	Kind      string
	Telemetry telemetry.Config
	Lua       pluginlua.Config
}

// Builder turns settings into a factory for one plugin kind.
type Builder func(Settings) pluginsdk.Factory

// Catalog holds the known plugin kinds. It is safe for concurrent use.
type Catalog struct {
	builders map[string]Builder
	mu       sync.RWMutex
}

// CatalogOption configures the Catalog.
type CatalogOption func(*Catalog)

// WithBuilder registers an additional kind at construction.
func WithBuilder(kind string, b Builder) CatalogOption {
	return func(c *Catalog) {
		c.builders[kind] = b
	}
}

// NewCatalog creates a catalog with the built-in kinds registered.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		builders: map[string]Builder{
			KindTelemetry: func(s Settings) pluginsdk.Factory { return telemetry.NewFactory(s.Telemetry) },
			KindLua:       func(s Settings) pluginsdk.Factory { return pluginlua.NewFactory(s.Lua) },
			KindNoop:      func(Settings) pluginsdk.Factory { return NoopFactory },
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a kind. Registering an existing kind replaces it with a
// warning; the last registration wins.
func (c *Catalog) Register(kind string, b Builder) error {
	if kind == "" {
		return oops.In("plugin").Errorf("plugin kind must not be empty")
	}
	if b == nil {
		return oops.In("plugin").With("kind", kind).Errorf("builder must not be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.builders[kind]; exists {
		slog.Warn("plugin kind re-registered; replacing builder", "kind", kind)
	}
	c.builders[kind] = b
	return nil
}

// Kinds returns the registered kinds, sorted.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.builders))
	for k := range c.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Factory returns the factory for s.Kind.
func (c *Catalog) Factory(s Settings) (pluginsdk.Factory, error) {
	c.mu.RLock()
	b, ok := c.builders[s.Kind]
	c.mu.RUnlock()
	if !ok {
		return nil, oops.Code("UNKNOWN_PLUGIN_KIND").
			In("plugin").
			With("kind", s.Kind).
			Hint("available kinds: " + strings.Join(c.Kinds(), ", ")).
			Errorf("unknown plugin kind %q", s.Kind)
	}
	return b(s), nil
}

// noop does nothing each frame. It is useful for measuring bridge overhead.
type noop struct{}

func (noop) OnFrame(context.Context, pluginsdk.Runtime, pluginsdk.Interface) error { return nil }

// NoopFactory builds instances that do nothing.
func NoopFactory(context.Context, pluginsdk.Setup) (pluginsdk.Plugin, error) {
	return noop{}, nil
}
