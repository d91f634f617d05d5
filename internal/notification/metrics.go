package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zenlist_notification_dispatches_total",
		Help: "Dispatch calls by notification type and store outcome.",
	}, []string{"type", "outcome"})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zenlist_notification_dispatch_latency_seconds",
		Help:    "Latency of a full dispatch including channel fan-out.",
		Buckets: prometheus.DefBuckets,
	})

	ChannelResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zenlist_notification_channel_results_total",
		Help: "Channel delivery attempts by channel and result.",
	}, []string{"channel", "result"})

	SubscriptionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zenlist_push_subscriptions_pruned_total",
		Help: "Push subscriptions deleted after the push service reported them gone.",
	})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zenlist_detached_tasks_total",
		Help: "Detached tasks by name and result.",
	}, []string{"name", "result"})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zenlist_detached_tasks_in_flight",
		Help: "Detached tasks currently running or waiting for a slot.",
	})

	IntakeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zenlist_intake_messages_total",
		Help: "Queue messages handled by the intake worker by source and result.",
	}, []string{"source", "result"})
)

func recordChannel(channel, result string) {
	ChannelResults.WithLabelValues(channel, result).Inc()
}
