// Package metrics holds the Prometheus collectors for power analyses.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run statuses used as label values
const (
	StatusSuccess = "success"
	StatusInvalid = "invalid"
	StatusFailed  = "failed"
	StatusCached  = "cached"
)

var (
	// runsTotal counts analyses by outcome
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmmpower_runs_total",
		Help: "Power analyses by status",
	}, []string{"status", "method"})

	// runDuration tracks end-to-end analysis latency
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lmmpower_run_duration_seconds",
		Help:    "Power analysis duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"method"})

	// replicatesTotal counts refitted replicates
	replicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmmpower_replicates_total",
		Help: "Simulated or resampled replicates refitted",
	}, []string{"method"})

	// singularReplicatesTotal counts replicates whose refit was singular or failed
	singularReplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmmpower_singular_replicates_total",
		Help: "Replicates with a singular or failed refit",
	}, []string{"method"})

	// cacheLookups counts result cache hits and misses
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmmpower_cache_lookups_total",
		Help: "Result cache lookups by result",
	}, []string{"result"})

	// intervalRequests counts standalone confidence interval computations
	intervalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lmmpower_interval_requests_total",
		Help: "Binomial confidence interval computations",
	})
)

// ObserveRun records a finished analysis
func ObserveRun(method, status string, elapsed time.Duration) {
	runsTotal.WithLabelValues(status, method).Inc()
	if status == StatusSuccess {
		runDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}

// AddReplicates records replicate counts for a finished analysis
func AddReplicates(method string, total, singular int) {
	replicatesTotal.WithLabelValues(method).Add(float64(total))
	singularReplicatesTotal.WithLabelValues(method).Add(float64(singular))
}

// CacheLookup records a cache hit or miss
func CacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// IntervalRequested records one interval computation
func IntervalRequested() {
	intervalRequests.Inc()
}
