package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zenlist_sweep_runs_total",
		Help: "Sweep job runs by job and result.",
	}, []string{"job", "result"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zenlist_sweep_duration_seconds",
		Help:    "Duration of sweep job runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	SweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zenlist_sweep_items_total",
		Help: "Todos visited by the due sweep by notification type and outcome.",
	}, []string{"type", "outcome"})

	CleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zenlist_cleanup_deleted_total",
		Help: "Rows removed by the daily cleanup.",
	}, []string{"kind"})
)
