package registration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regbot",
		Subsystem: "cycle",
		Name:      "iterations_total",
		Help:      "Number of registration cycle iterations by result",
	}, []string{"result"})

	heightMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "regbot",
		Subsystem: "chain",
		Name:      "height",
		Help:      "Latest block height observed",
	})

	blocksMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "regbot",
		Subsystem: "window",
		Name:      "blocks_total",
		Help:      "Number of block notifications processed by window schedulers",
	})

	attemptedSlotsMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "regbot",
		Subsystem: "window",
		Name:      "attempted_slots",
		Help:      "Number of slots attempted per window",
		Buckets:   prometheus.LinearBuckets(0, 1, 12),
	})

	submissionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regbot",
		Subsystem: "submission",
		Name:      "total",
		Help:      "Number of registration submissions by result",
	}, []string{"result"})

	submissionLatencyMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "regbot",
		Subsystem: "submission",
		Name:      "latency_seconds",
		Help:      "Latency from block arrival to the node accepting the extrinsic",
		Buckets:   prometheus.ExponentialBuckets(0.001, 1.5, 20),
	}, []string{"phase"})
)
