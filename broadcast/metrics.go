package broadcast

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	events      *prometheus.CounterVec
	lagged      prometheus.Counter
	subscribers prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		events: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqsync",
			Name:      "broadcast_events_total",
			Help:      "Total number of events published, by type.",
		}, []string{"type"}),
		lagged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "reqsync",
			Name:      "broadcast_lagged_total",
			Help:      "Total number of subscribers dropped for falling behind.",
		}),
		subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqsync",
			Name:      "subscribers",
			Help:      "Current number of broadcast subscribers.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
