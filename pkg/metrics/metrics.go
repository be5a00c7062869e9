// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_transitions_total",
			Help: "Settlement status transitions applied",
		},
		[]string{"from", "to"},
	)

	SettlementStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage", "result"},
	)

	SettlementFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_failures_total",
			Help: "Settlements that ended failed, by error code",
		},
		[]string{"code"},
	)

	SwapLayerAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_swap_layer_attempts_total",
			Help: "Swap routing attempts per cascade layer",
		},
		[]string{"layer", "result"},
	)

	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_sweeps_total",
			Help: "Sweeps submitted per mode",
		},
		[]string{"mode", "result"},
	)

	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_payouts_total",
			Help: "Fiat payouts initiated",
		},
		[]string{"result"},
	)

	ReconciliationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_reconciliation_events_total",
			Help: "Payout confirmation events by outcome",
		},
		[]string{"source", "outcome"},
	)

	RPCRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_rpc_retries_total",
			Help: "Chain RPC calls retried after rate limiting",
		},
		[]string{"method"},
	)

	RateCacheRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_rate_cache_refreshes_total",
			Help: "Rate cache reloads from storage",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
