package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveriesTotal tracks finished deliveries per category and result.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_deliveries_total",
			Help: "Total number of delivery attempts by final result",
		},
		[]string{"category", "channel", "result"},
	)

	// DeliveryDuration tracks end-to-end delivery processing time.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_delivery_duration_seconds",
			Help:    "End-to-end delivery processing time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	// RetryAttempts tracks retry attempts consumed per operation class.
	RetryAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_retry_attempts",
			Help:    "Retry attempts consumed per operation",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"operation"},
	)

	// ChannelSendErrors tracks channel send failures by error type.
	ChannelSendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_channel_send_errors_total",
			Help: "Total channel send failures",
		},
		[]string{"channel", "error_type"},
	)

	// CacheHits and CacheMisses track artifact cache effectiveness per tier.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_cache_hits_total",
			Help: "Artifact cache hits",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_cache_misses_total",
			Help: "Artifact cache misses",
		},
		[]string{"tier"},
	)

	// CacheBytes tracks the current cache footprint.
	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_cache_bytes",
			Help: "Current artifact cache footprint in bytes",
		},
	)

	// EscalationsTotal tracks operator escalations by alert level.
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_escalations_total",
			Help: "Total operator escalations sent",
		},
		[]string{"level"},
	)

	// QueueDepth tracks pending deliveries claimed from the dispatch queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_queue_depth",
			Help: "Pending deliveries in the dispatch queue",
		},
	)
)
