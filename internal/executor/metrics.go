// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for task metrics.
const (
	OutcomeSpawned   = "spawned"
	OutcomeRejected  = "rejected"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomePanicked  = "panicked"
	OutcomeAbandoned = "abandoned"
)

// TaskEvents counts task lifecycle events by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var TaskEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "framebridge_executor_tasks_total",
		Help: "Total number of background task events by outcome",
	},
	[]string{"outcome"},
)

// DrainDuration is the histogram for drain pass duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var DrainDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "framebridge_executor_drain_duration_seconds",
		Help:    "Time spent running queued continuations per drain",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	},
)

// DrainedItems counts continuations run by drain passes.
// Use RegisterMetrics to register this with a Prometheus registry.
var DrainedItems = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "framebridge_executor_drained_items_total",
		Help: "Total number of continuations run during drains",
	},
)

// RegisterMetrics registers executor metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(TaskEvents)
	reg.MustRegister(DrainDuration)
	reg.MustRegister(DrainedItems)
}

func recordTask(outcome string) {
	TaskEvents.WithLabelValues(outcome).Inc()
}

func recordDrain(items int, elapsed time.Duration) {
	DrainDuration.Observe(elapsed.Seconds())
	if items > 0 {
		DrainedItems.Add(float64(items))
	}
}
