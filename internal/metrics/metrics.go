// Package metrics exposes Prometheus collectors for the quantizer and its transports.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cellsGauge tracks the number of registered cells
	cellsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ihtai_cells",
		Help: "Number of registered cells",
	})

	// structuralTotal counts structural changes by kind and result
	structuralTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ihtai_structural_changes_total",
		Help: "Structural index changes by kind and result",
	}, []string{"kind", "result"})

	// nearestLookups counts nearest-cell lookups by cache outcome
	nearestLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ihtai_nearest_lookups_total",
		Help: "Nearest-cell lookups by cache outcome",
	}, []string{"cache"})

	// nearestDuration tracks uncached nearest-cell scan latency
	nearestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ihtai_nearest_scan_duration_seconds",
		Help:    "Nearest-cell scan duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~160ms
	})

	// scoreUpdates counts score updates by result
	scoreUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ihtai_score_updates_total",
		Help: "Score updates by result",
	}, []string{"result"})

	// cacheErrors counts degraded cache operations by op
	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ihtai_cache_errors_total",
		Help: "Cache operations that failed and fell back to direct computation",
	}, []string{"op"})

	// requestDuration tracks transport request latency
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ihtai_request_duration_seconds",
		Help:    "Request duration by transport, operation and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport", "op", "status"})
)

func SetCells(n int) { cellsGauge.Set(float64(n)) }

func RecordStructural(kind string, err error) {
	structuralTotal.WithLabelValues(kind, result(err)).Inc()
}

func RecordNearest(cacheOutcome string) {
	nearestLookups.WithLabelValues(cacheOutcome).Inc()
}

func ObserveNearestScan(d time.Duration) {
	nearestDuration.Observe(d.Seconds())
}

func RecordScoreUpdate(err error) {
	scoreUpdates.WithLabelValues(result(err)).Inc()
}

func RecordCacheError(op string) {
	cacheErrors.WithLabelValues(op).Inc()
}

func ObserveRequest(transport, op, status string, d time.Duration) {
	requestDuration.WithLabelValues(transport, op, status).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
