package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database connection
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "withdrawer_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBConnectionOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "withdrawer_db_connection_open",
		Help: "Number of open database connections",
	})

	// ============================================
	// NATS connection and alerts
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "withdrawer_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_events_published_total",
			Help: "Total number of engine events published",
		},
		[]string{"type"},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_event_publish_failures_total",
			Help: "Total number of engine events that failed to publish",
		},
		[]string{"sink"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_alerts_total",
			Help: "Total number of operator alerts raised",
		},
		[]string{"reason"},
	)

	// ============================================
	// Withdrawal engine
	// ============================================
	RequestsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_requests_enqueued_total",
			Help: "Total number of withdrawal requests accepted",
		},
		[]string{"asset"},
	)

	BacklogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "withdrawer_backlog_size",
		Help: "Unbatched withdrawal requests seen by the last batching tick",
	})

	BatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "withdrawer_batches_created_total",
		Help: "Total number of batches formed",
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "withdrawer_batch_size",
		Help:    "Number of requests per formed batch",
		Buckets: []float64{1, 5, 10, 15, 25, 50, 100, 254},
	})

	BatchTransmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_batch_transmissions_total",
			Help: "Total number of external message transmissions",
		},
		[]string{"attempt", "result"}, // attempt: first|retry, result: ok|error
	)

	BatchesSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "withdrawer_batches_superseded_total",
		Help: "Total number of batches expired and superseded",
	})

	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_ledger_records_total",
			Help: "Total number of ledger records processed by the reconciler",
		},
		[]string{"stream", "kind"},
	)

	OutcomesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_outcomes_total",
			Help: "Total number of outcomes recorded",
		},
		[]string{"phase", "outcome"},
	)

	CursorLT = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "withdrawer_cursor_lt",
			Help: "Logical time of the last processed transaction per stream",
		},
		[]string{"stream"},
	)

	// ============================================
	// Scheduler
	// ============================================
	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_task_runs_total",
			Help: "Total number of scheduled task runs",
		},
		[]string{"task", "result"}, // result: ok|error|skipped
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "withdrawer_task_duration_seconds",
			Help:    "Scheduled task duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// ============================================
	// Ledger API
	// ============================================
	LedgerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_ledger_requests_total",
			Help: "Total number of ledger API requests",
		},
		[]string{"method", "status"},
	)

	LedgerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "withdrawer_ledger_request_duration_seconds",
			Help:    "Ledger API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ============================================
	// HTTP API
	// ============================================
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
