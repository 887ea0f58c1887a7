// Package metrics instruments the pipeline with prometheus metrics,
// adapted from the teacher's pkg/metrics: same
// gauge/counter/histogram-vec vocabulary and Timer helper, renamed from
// cluster-lifecycle metrics to partition/chunk/retry/breaker metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PartitionsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_partitions_written_total",
			Help: "Total number of partitions successfully committed, by layer and entity",
		},
		[]string{"layer", "entity"},
	)

	PartitionCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medallion_partition_commit_duration_seconds",
			Help:    "Time to commit a partition, from lease acquisition to staging rename",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"layer", "entity"},
	)

	ChunksWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_chunks_written_total",
			Help: "Total number of chunk files written, by format",
		},
		[]string{"format"},
	)

	RowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_rows_written_total",
			Help: "Total number of rows written, by layer and entity",
		},
		[]string{"layer", "entity"},
	)

	BadRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_bad_rows_total",
			Help: "Total number of rows quarantined during Silver curation",
		},
		[]string{"entity", "reason"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_retries_total",
			Help: "Total number of retry attempts, by source and failure kind",
		},
		[]string{"source", "kind"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medallion_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open), by backend and source",
		},
		[]string{"backend", "source"},
	)

	RateLimiterWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medallion_rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_runs_total",
			Help: "Total number of Bronze/Silver runs, by layer and outcome",
		},
		[]string{"layer", "outcome"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medallion_run_duration_seconds",
			Help:    "End-to-end run duration, by layer",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"layer"},
	)
)

func init() {
	prometheus.MustRegister(PartitionsWrittenTotal)
	prometheus.MustRegister(PartitionCommitDuration)
	prometheus.MustRegister(ChunksWrittenTotal)
	prometheus.MustRegister(RowsWrittenTotal)
	prometheus.MustRegister(BadRowsTotal)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(RateLimiterWaitDuration)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
