// Package metrics registers the service's Prometheus collectors. All
// collectors live on the default registry and are exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_api_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "status"})

	AuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_api_auth_failures_total",
		Help: "Requests rejected for a missing or malformed API key.",
	})

	UpstreamRateLimitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_api_upstream_rate_limits_total",
		Help: "429 responses observed from the upstream RPC provider.",
	})

	ExtractorFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_api_extractor_fallbacks_total",
		Help: "Transactions decoded via the token-transfer fallback path.",
	})

	CacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_api_cache_ops_total",
		Help: "Cache reads by outcome (hit, miss, stale_serve).",
	}, []string{"outcome"})

	CacheRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_api_cache_refreshes_total",
		Help: "Background cache refreshes by result (triggered, coalesced, failed).",
	}, []string{"result"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_api_active_streams",
		Help: "SSE streams currently open.",
	})

	InFlightPipelines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_api_inflight_pipelines",
		Help: "Wallet pipeline runs currently executing.",
	})

	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_api_cache_size",
		Help: "Entries held by the local cache tier.",
	})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_api_pipeline_phase_seconds",
		Help:    "Wall-clock duration of each pipeline phase.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"phase"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_api_request_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"route"})
)
