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

var (
	// RecordsDispatched counts timetable records put on air, by kind and start mode.
	RecordsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyaps_records_dispatched_total",
		Help: "Timetable records put on air",
	}, []string{"kind", "mode"})

	// DispatchLateness observes how late each record started against its schedule.
	DispatchLateness = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyaps_dispatch_lateness_seconds",
		Help:    "Delay between scheduled and actual start",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120, 600},
	})

	// CatchUpOffset is the seek offset used for the last late start.
	CatchUpOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "easyaps_catchup_offset_seconds",
		Help: "Seek offset applied to the most recent late start",
	})

	// TimelineRemaining is the number of records after the cursor.
	TimelineRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "easyaps_timeline_remaining_records",
		Help: "Records left after the one on air",
	})

	// ExternalCalls counts collaborator subprocess calls by operation and outcome.
	ExternalCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyaps_external_calls_total",
		Help: "External command invocations",
	}, []string{"op", "outcome"})

	// RouteState is 1 while the studio route is bridged.
	RouteState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "easyaps_route_routed",
		Help: "1 when the studio audio route is established",
	})

	// PreloadAttempts counts next-day fetch attempts by outcome.
	PreloadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyaps_preload_attempts_total",
		Help: "Next broadcast day fetch attempts",
	}, []string{"outcome"})

	// PreloadState mirrors the current day boundary's preload state (0 idle, 1 in progress, 2 loaded).
	PreloadState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "easyaps_preload_state",
		Help: "Preload state of the next day boundary",
	})

	// AsRunWrites counts as-run log inserts by outcome.
	AsRunWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyaps_asrun_writes_total",
		Help: "As-run log writes",
	}, []string{"outcome"})

	// DatabaseQueryDuration times as-run database operations.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easyaps_database_query_duration_seconds",
		Help:    "Database operation latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyaps_database_errors_total",
		Help: "Failed database operations",
	}, []string{"operation"})

	// BridgeMessages counts events crossing the process bridge by direction.
	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyaps_bridge_messages_total",
		Help: "Events forwarded to or received from the external bus",
	}, []string{"transport", "direction"})

	// APIRequestDuration tracks status API latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easyaps_api_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts status API requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyaps_api_requests_total",
		Help: "HTTP requests served",
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections is the number of in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "easyaps_api_active_connections",
		Help: "In-flight HTTP requests",
	})

	// EventsDropped counts bus messages dropped because a subscriber was full.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyaps_events_dropped_total",
		Help: "In-process event bus drops",
	}, []string{"topic"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
