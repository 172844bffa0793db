/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notincredibox"

var (
	// BeatTicksTotal counts boundary ticks executed by the beat scheduler.
	BeatTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "beat",
		Name:      "ticks_total",
		Help:      "Boundary ticks executed by the beat scheduler.",
	})

	// BeatResyncsTotal counts how often the scheduler realigned to the next boundary.
	BeatResyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "beat",
		Name:      "resyncs_total",
		Help:      "Times the active set changed and the scheduler waited for the next boundary.",
	})

	// BeatTimerFailuresTotal counts timer source failures that stopped playback.
	BeatTimerFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "beat",
		Name:      "timer_failures_total",
		Help:      "Timer source failures that tore the scheduler down to idle.",
	})

	// BeatActiveSlots is the size of the active set.
	BeatActiveSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "beat",
		Name:      "active_slots",
		Help:      "Slots currently holding an assigned sound.",
	})

	// PlaybackFailuresTotal counts slot playback starts that failed, by operation.
	PlaybackFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "playback",
		Name:      "failures_total",
		Help:      "Per-slot playback failures caught during a tick.",
	}, []string{"op"})

	// CombinationOpsTotal counts combination store operations by op and result.
	CombinationOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "combinations",
		Name:      "operations_total",
		Help:      "Combination store operations.",
	}, []string{"op", "result"})

	// CacheOpsTotal counts combination cache lookups by result (hit, miss, error).
	CacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Combination list cache lookups.",
	}, []string{"result"})

	// DatabaseQueryDuration observes gorm operation latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "query_duration_seconds",
		Help:      "Database operation latency by operation and table.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "errors_total",
		Help:      "Database operations that returned an error other than not found.",
	}, []string{"operation"})

	// DatabaseConnectionsOpen is the pool's open connection count.
	DatabaseConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "connections_open",
		Help:      "Open database connections.",
	})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections is the number of in-flight requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "In-flight HTTP requests.",
	})

	// APIWebSocketConnections tracks live event streams.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "websocket_connections",
		Help:      "Open event stream connections.",
	})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
