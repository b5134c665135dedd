package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	clients     prometheus.Gauge
	requests    *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		clients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqsync",
			Name:      "ws_clients",
			Help:      "Current number of connected websocket clients.",
		}),
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqsync",
			Name:      "ws_requests_total",
			Help:      "Total number of websocket requests, by type and outcome code.",
		}, []string{"type", "outcome"}),
		rateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqsync",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by rate limits, by surface.",
		}, []string{"surface"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
