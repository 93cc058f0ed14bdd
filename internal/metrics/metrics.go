package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peacasso_messages_received_total",
			Help: "Inbound envelopes by action",
		},
		[]string{"action"}, // create, update, clearqueue, unknown, invalid
	)

	JobsQueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peacasso_jobs_queued_total",
			Help: "Jobs accepted into the dedup queue",
		},
	)

	JobsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peacasso_jobs_dropped_total",
			Help: "Jobs discarded before producing a result",
		},
		[]string{"reason"}, // in_flight, cleared, engine_error
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peacasso_jobs_completed_total",
			Help: "Results produced by workers",
		},
		[]string{"device", "cache"}, // cache: hit or miss
	)

	ResultsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peacasso_results_sent_total",
			Help: "Update envelopes written to the server",
		},
	)

	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peacasso_reconnects_total",
			Help: "Reconnections to the job-feed server",
		},
	)

	CacheWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peacasso_cache_write_errors_total",
			Help: "Artifacts that could not be written to the cache",
		},
	)

	// Gauges
	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "peacasso_queue_length",
			Help: "Current number of items in each queue",
		},
		[]string{"queue"}, // dedup, input, output
	)

	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peacasso_session_active",
			Help: "1 while logged in to the job-feed server",
		},
	)

	// Buckets: 50ms to ~7min
	GenerateDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peacasso_generate_duration_seconds",
			Help:    "Time to produce one result, cache hits included",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"device", "cache"},
	)
)

// CacheLabel maps a cache outcome to its label value
func CacheLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
