// Package obs exposes prometheus metrics for the sync engine.
package obs

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	passesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_passes_total",
			Help: "Completed sync passes by overall result.",
		},
		[]string{"result"},
	)

	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_total",
			Help: "Records processed, by resource and resulting status.",
		},
		[]string{"resource", "status"},
	)

	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_pass_duration_seconds",
			Help:    "Sync pass latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var initOnce sync.Once

// Init registers the engine's metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(passesTotal, recordsTotal, passDuration)
	})
}

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePass records one finished pass.
func ObservePass(ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	passesTotal.WithLabelValues(result).Inc()
	passDuration.Observe(d.Seconds())
}

// ObserveRecords records per-resource record outcomes.
func ObserveRecords(resource, status string, n int) {
	if n <= 0 {
		return
	}
	recordsTotal.WithLabelValues(resource, status).Add(float64(n))
}
