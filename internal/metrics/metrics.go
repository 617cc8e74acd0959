// Package metrics provides Prometheus metrics for headliner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts jobs applied by the worker.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "headliner",
			Name:      "jobs_total",
			Help:      "Total number of queued jobs applied",
		},
		[]string{"kind", "status"},
	)

	// JobDuration measures how long applying a job takes.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "headliner",
			Name:      "job_duration_seconds",
			Help:      "Duration of job application in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// UpdateTargets observes how many articles one update request touches.
	UpdateTargets = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "headliner",
			Name:      "update_targets",
			Help:      "Distribution of articles per update request",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// PendingUpdates tracks submitted jobs still waiting for completion.
	PendingUpdates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "headliner",
			Name:      "pending_updates",
			Help:      "Number of submitted jobs awaiting completion",
		},
	)

	// RefreshTotal counts headline list reloads.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "headliner",
			Name:      "refresh_total",
			Help:      "Total number of headline list reloads",
		},
		[]string{"status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordJob records one applied job.
func RecordJob(kind string, err error, duration float64) {
	JobsTotal.WithLabelValues(kind, status(err)).Inc()
	JobDuration.WithLabelValues(kind).Observe(duration)
}

// RecordRefresh records one headline list reload.
func RecordRefresh(err error) {
	RefreshTotal.WithLabelValues(status(err)).Inc()
}
