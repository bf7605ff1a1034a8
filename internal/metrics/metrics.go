// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_cycles_total",
			Help: "Total number of feed check cycles, labeled by result.",
		},
		[]string{"result"},
	)

	cycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_cycle_duration_seconds",
			Help:    "Histogram of feed check cycle durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	itemsDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_items_dispatched_total",
			Help: "Total number of items delivered to a destination.",
		},
	)

	dispatchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dispatch_failures_total",
			Help: "Total number of failed deliveries, labeled by kind.",
		},
		[]string{"kind"},
	)

	itemsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_items_rejected_total",
			Help: "Total number of items rejected by the filter pipeline, labeled by reason.",
		},
		[]string{"reason"},
	)

	firesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_fires_dropped_total",
			Help: "Timer fires dropped because a check for the same feed was still running.",
		},
	)

	scheduledJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_scheduled_jobs",
			Help: "Number of feeds with an installed timer.",
		},
	)
)

// Cycle results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Dispatch failure kinds.
const (
	FailureDestination = "destination_not_found"
	FailureDelivery    = "delivery"
	FailureStore       = "store"
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records the outcome and duration of one check cycle.
func ObserveCycle(result string, duration time.Duration) {
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveDispatched counts one delivered item.
func ObserveDispatched() {
	itemsDispatchedTotal.Inc()
}

// ObserveDispatchFailure counts one failed delivery.
func ObserveDispatchFailure(kind string) {
	dispatchFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveRejected counts one item rejected for reason.
func ObserveRejected(reason string) {
	itemsRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveFireDropped counts one dropped timer fire.
func ObserveFireDropped() {
	firesDroppedTotal.Inc()
}

// SetScheduledJobs sets the number of installed timers.
func SetScheduledJobs(n int) {
	scheduledJobs.Set(float64(n))
}
