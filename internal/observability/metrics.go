package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// atl-api metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atl_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atl_active_requests",
		Help: "Current in-flight requests",
	})

	AuthDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atl_auth_denied_total",
		Help: "Requests rejected at the capability boundary",
	}, []string{"capability"})

	// ledger metrics
	AppendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atl_append_total",
		Help: "Ledger append outcomes",
	}, []string{"outcome"}) // stored, deduped, error

	AppendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atl_append_duration_seconds",
		Help:    "Chained append end-to-end duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	ChainLockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atl_chain_lock_wait_seconds",
		Help:    "Per-tenant chain lock wait time",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	VerifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atl_verify_duration_seconds",
		Help:    "Integrity verification duration",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	IntegrityViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atl_integrity_violations_total",
		Help: "Hash chain or anchor mismatches found by verification",
	})

	AnchorsSealedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atl_anchors_sealed_total",
		Help: "Daily hash anchors written",
	})

	RotatedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atl_rotated_events_total",
		Help: "Events re-encrypted by key rotation",
	})

	// outbox / drain metrics
	OutboxQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atl_outbox_queue_depth",
		Help: "Pending + retry-eligible failed outbox items",
	})

	DrainTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atl_drain_total",
		Help: "Outbox drain outcomes",
	}, []string{"status"}) // persisted, failed, dead

	DrainRetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atl_drain_retry_total",
		Help: "Outbox item retry count",
	})

	DrainEmptyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atl_drain_empty_total",
		Help: "Empty claim polls",
	})

	DeadLetterReplayTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atl_dead_letter_replay_total",
		Help: "Manual dead-letter replays",
	}, []string{"outcome"})

	// partition / archive metrics
	PartitionsEnsuredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atl_partitions_ensured_total",
		Help: "Partitions created by horizon maintenance",
	})

	PartitionsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atl_partitions_dropped_total",
		Help: "Partitions dropped under retention authority",
	})

	ArchiveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atl_archive_duration_seconds",
		Help:    "Cold-store export duration",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	ArchiveRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atl_archive_rows_total",
		Help: "Rows exported to cold storage",
	})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests, AuthDeniedTotal,
		AppendTotal, AppendDuration, ChainLockWaitSeconds,
		VerifyDuration, IntegrityViolationsTotal, AnchorsSealedTotal, RotatedEventsTotal,
		OutboxQueueDepth, DrainTotal, DrainRetryTotal, DrainEmptyTotal, DeadLetterReplayTotal,
		PartitionsEnsuredTotal, PartitionsDroppedTotal, ArchiveDuration, ArchiveRowsTotal,
	)
}
