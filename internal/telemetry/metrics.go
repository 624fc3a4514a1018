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
	// EngineRunning is 1 while the playout engine is enabled.
	EngineRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_engine_running",
		Help: "Whether the playout engine is enabled (1) or stopped (0)",
	})

	// EncoderRestartsTotal counts encoder process restarts by reason.
	EncoderRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_encoder_restarts_total",
		Help: "Encoder process restarts by reason",
	}, []string{"reason"})

	// EncoderSpawnFailuresTotal counts failed encoder spawns.
	EncoderSpawnFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_tv_encoder_spawn_failures_total",
		Help: "Failed encoder process spawns",
	})

	// ClipsPlayedTotal counts clips the cursor advanced past while on air.
	ClipsPlayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_tv_clips_played_total",
		Help: "Clips played to air",
	})

	// RelaysActive tracks live relay subprocesses per protocol.
	RelaysActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grimnir_tv_relays_active",
		Help: "Active relay subprocesses by protocol",
	}, []string{"protocol"})

	// RelayFailuresTotal counts relay exits by protocol.
	RelayFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_relay_failures_total",
		Help: "Relay subprocess exits by protocol",
	}, []string{"protocol"})

	// ViewersCurrent tracks HLS viewer sessions inside the activity window.
	ViewersCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_viewers_current",
		Help: "Active HLS viewer sessions",
	})

	// TickDuration observes the playout tick duration.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "grimnir_tv_tick_duration_seconds",
		Help:    "Playout engine tick duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// APIRequestsTotal counts control surface requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_api_requests_total",
		Help: "Control API requests by method, endpoint and status",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes control surface request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_tv_api_request_duration_seconds",
		Help:    "Control API request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight control API requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_api_active_connections",
		Help: "In-flight control API requests",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
