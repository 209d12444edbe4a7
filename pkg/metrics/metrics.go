// Package metrics registers the Prometheus instruments exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts requests by method, route, and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumeforge_http_requests_total",
		Help: "HTTP requests by method, route, and status class.",
	}, []string{"method", "route", "status_class"})

	// HTTPDuration tracks request latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resumeforge_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// RateLimited counts requests rejected by the per-user rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resumeforge_rate_limited_total",
		Help: "Requests rejected with 429.",
	})

	// CapacityDenied counts pipeline admissions rejected with CAPACITY_LIMIT.
	CapacityDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumeforge_capacity_denied_total",
		Help: "Pipeline admissions denied by scope (global, user).",
	}, []string{"scope"})

	// SSEConnections gauges live stream connections.
	SSEConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resumeforge_sse_connections",
		Help: "Live SSE connections.",
	})

	// EventsDropped counts stream events dropped on queue overflow.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resumeforge_stream_events_dropped_total",
		Help: "Stream events dropped due to delivery queue overflow.",
	})

	// PipelinesStarted counts admitted pipeline runs.
	PipelinesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resumeforge_pipelines_started_total",
		Help: "Pipelines admitted and started.",
	})

	// PipelinesCompleted counts terminal pipeline outcomes.
	PipelinesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumeforge_pipelines_completed_total",
		Help: "Pipelines reaching a terminal status (complete, error).",
	}, []string{"status"})

	// TokensUsed counts model tokens by direction.
	TokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumeforge_llm_tokens_total",
		Help: "Model tokens consumed by direction (input, output).",
	}, []string{"direction"})
)
