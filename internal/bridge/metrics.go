// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for bridge metrics.
const (
	StatusOK            = "ok"
	StatusError         = "error"
	StatusPanic         = "panic"
	StatusUnknownHandle = "unknown_handle"
	StatusFailed        = "failed"
	StatusReplaced      = "replaced"
)

// Instances is the gauge of live plugin instances.
// Use RegisterMetrics to register this with a Prometheus registry.
var Instances = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "framebridge_instances",
		Help: "Number of live plugin instances",
	},
)

// Ticks is the counter for per-tick calls.
// Use RegisterMetrics to register this with a Prometheus registry.
var Ticks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "framebridge_ticks_total",
		Help: "Total number of per-tick calls by status",
	},
	[]string{"status"},
)

// TickDuration is the histogram for per-tick call duration, drain included.
// Use RegisterMetrics to register this with a Prometheus registry.
var TickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "framebridge_tick_duration_seconds",
		Help:    "Per-tick call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	},
)

// Constructions is the counter for instance constructions.
// Use RegisterMetrics to register this with a Prometheus registry.
var Constructions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "framebridge_constructions_total",
		Help: "Total number of instance constructions by status",
	},
	[]string{"status"},
)

// RegisterMetrics registers bridge metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Instances)
	reg.MustRegister(Ticks)
	reg.MustRegister(TickDuration)
	reg.MustRegister(Constructions)
}

// RecordTick increments the tick counter and observes its duration.
func RecordTick(status string, duration time.Duration) {
	Ticks.WithLabelValues(status).Inc()
	TickDuration.Observe(duration.Seconds())
}

// RecordConstruction increments the construction counter.
func RecordConstruction(status string) {
	Constructions.WithLabelValues(status).Inc()
}
