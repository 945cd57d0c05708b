package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts HTTP requests.
	// Labels: method, route, status
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtester",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backtester",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "backtester",
		Subsystem: "http",
		Name:      "websocket_streams_active",
		Help:      "Open websocket streams",
	})
)
