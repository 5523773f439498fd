package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CompletionRequests counts provider calls, labeled by backend, mode and outcome.
	CompletionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_completion_requests_total",
		Help: "The total number of chat completion calls",
	}, []string{"backend", "mode", "outcome"}) // mode: blocking, streaming; outcome: success or error kind

	// CompletionDuration measures the time from request to final result or stream end.
	CompletionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_completion_duration_seconds",
		Help:    "Time taken by a chat completion call",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "mode"})

	// StreamUpdates counts deltas delivered to consumers.
	StreamUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_stream_updates_total",
		Help: "The total number of streamed updates delivered",
	}, []string{"backend"})

	// OpenConnections tracks provider response bodies that have not been closed yet.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_open_provider_connections",
		Help: "Provider responses currently held open",
	})

	// HTTPRequests counts host requests, labeled by route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "The total number of HTTP requests served",
	}, []string{"route", "status"})
)
