package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "locussync"
	subsystem = "hashtree"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "messages_total",
		Help:      "Inbound messages processed, by kind",
	}, []string{"kind"})

	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rounds_total",
		Help:      "Reconciliation rounds, by outcome",
	}, []string{"outcome"})

	roundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "round_duration_seconds",
		Help:      "Duration of reconciliation rounds that reached the network step",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	mismatchedLeaves = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "mismatched_leaves",
		Help:      "Leaves resynchronized per round",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "deliveries_total",
		Help:      "Callbacks delivered, by update type",
	}, []string{"type"})
)
