package coord

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teranos/reqsync/errors"
)

// Operation labels
const (
	opCreate = "create"
	opPatch  = "patch"
	opDelete = "delete"
	opToggle = "toggle_working"
	opMove   = "move"
)

type metrics struct {
	mutations   *prometheus.CounterVec
	persist     *prometheus.HistogramVec
	assignments prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqsync",
			Name:      "mutations_total",
			Help:      "Total number of record mutations, by operation and outcome code.",
		}, []string{"operation", "outcome"}),
		persist: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reqsync",
			Name:      "persist_seconds",
			Help:      "Latency of durable writes.",
			Buckets: []float64{
				0.0005, 0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5,
			},
		}, []string{"operation"}),
		assignments: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqsync",
			Name:      "assignments",
			Help:      "Current number of recruiters working a requisition.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

func observeMutation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = errors.Code(err)
	}
	getMetrics().mutations.WithLabelValues(operation, outcome).Inc()
}

func observePersist(operation string, start time.Time) {
	getMetrics().persist.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
