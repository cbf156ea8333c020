// Package metrics provides Prometheus metrics for x402watch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "x402watch"

var (
	// FetchRequests counts catalog HTTP attempts by outcome.
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Catalog fetch attempts by result",
		},
		[]string{"result"},
	)

	// FetchDuration measures single fetch attempts.
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of catalog fetch attempts in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
	)

	// SweepsTotal counts polling sweeps by result.
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Polling sweeps by result (complete, truncated)",
		},
		[]string{"result"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of polling sweeps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Catalog pages fetched and parsed",
		},
	)

	OriginsDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "origins_discovered_total",
			Help:      "Newly listed origins detected",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by sink and result",
		},
		[]string{"sink", "result"},
	)

	SeenSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seen_set_size",
			Help:      "Number of origin ids in the seen set",
		},
	)

	PersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Seen-set write attempts that failed",
		},
	)

	LastSweepTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the last finished sweep",
		},
	)
)

// RecordFetch records one fetch attempt.
func RecordFetch(result string, d time.Duration) {
	FetchRequests.WithLabelValues(result).Inc()
	FetchDuration.Observe(d.Seconds())
}

// RecordSweep records a finished sweep.
func RecordSweep(truncated bool, d time.Duration, finishedAt time.Time) {
	result := "complete"
	if truncated {
		result = "truncated"
	}
	SweepsTotal.WithLabelValues(result).Inc()
	SweepDuration.Observe(d.Seconds())
	LastSweepTimestamp.Set(float64(finishedAt.Unix()))
}

// RecordNotification records one delivery attempt.
func RecordNotification(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	NotificationsTotal.WithLabelValues(sink, result).Inc()
}
