// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package registry maps host-supplied handles to plugin instances.
package registry

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/aughey/framebridge/pkg/plugin"
)

// Handle is the opaque identifier the host passes with every call.
// It is compared for equality only and never dereferenced.
type Handle uintptr

// String formats the handle the way hosts usually print pointers.
func (h Handle) String() string {
	return "0x" + strconv.FormatUint(uint64(h), 16)
}

// LogValue implements slog.LogValuer.
func (h Handle) LogValue() slog.Value {
	return slog.StringValue(h.String())
}

// Registry owns the live plugin instances. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Handle]plugin.Plugin
	order   []Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[Handle]plugin.Plugin),
	}
}

// Insert registers p under h.
// If h is already registered, the previous instance is replaced and returned
// with replaced set to true; the caller owns it and must release it.
// Last constructed wins, so a host that reuses a pointer without destroying
// it first still reaches its newest instance.
func (r *Registry) Insert(h Handle, p plugin.Plugin) (displaced plugin.Plugin, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[h]; ok {
		slog.Warn("handle already registered: replacing instance", "handle", h)
		r.entries[h] = p
		return existing, true
	}

	r.entries[h] = p
	r.order = append(r.order, h)
	return nil, false
}

// Remove unregisters h and returns its instance. Unknown handles are a no-op.
func (r *Registry) Remove(h Handle) (plugin.Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.entries[h]
	if !ok {
		return nil, false
	}
	delete(r.entries, h)
	for i, existing := range r.order {
		if existing == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p, true
}

// Find returns the instance registered under h.
func (r *Registry) Find(h Handle) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.entries[h]
	return p, ok
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Handles returns the live handles in insertion order.
// The returned slice is a copy and safe to modify.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, len(r.order))
	copy(out, r.order)
	return out
}

// Drain removes every instance and returns them in insertion order.
func (r *Registry) Drain() []plugin.Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]plugin.Plugin, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, r.entries[h])
	}
	r.entries = make(map[Handle]plugin.Plugin)
	r.order = nil
	return out
}
