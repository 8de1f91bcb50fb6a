package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidtrack",
		Name:      "jobs_processed_total",
		Help:      "Total number of job runs, by final status",
	}, []string{"status"})

	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vidtrack",
		Name:      "batches_processed_total",
		Help:      "Total number of committed detection batches",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vidtrack",
		Name:      "batch_duration_seconds",
		Help:      "Duration of one batch: decode, detect, commit",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	CollaboratorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidtrack",
		Name:      "collaborator_duration_seconds",
		Help:      "Duration of external detection/tracking calls",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"collaborator"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vidtrack",
		Name:      "queue_depth",
		Help:      "Number of job references waiting in the scheduler queue",
	})

	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vidtrack",
		Name:      "jobs_running",
		Help:      "Jobs currently being processed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidtrack",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vidtrack",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
