package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Batch metrics
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_batches_total",
			Help: "Total number of batches processed by the pipeline",
		},
		[]string{"kind", "status"},
	)

	RecordsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_records_persisted_total",
			Help: "Total number of records persisted",
		},
		[]string{"kind"},
	)

	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_persistence_errors_total",
			Help: "Total number of records that failed to persist",
		},
		[]string{"kind"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowguard_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Detection metrics
	DetectorVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_detector_verdicts_total",
			Help: "Detector verdicts by source and outcome",
		},
		[]string{"source", "anomaly"},
	)

	DetectionDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_detection_degraded_total",
			Help: "Total number of detections that fell back or failed",
		},
		[]string{"cause"},
	)

	// Alerting metrics
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_triggers_total",
			Help: "Total number of alert triggers produced",
		},
		[]string{"reason", "severity"},
	)

	TriggersSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_triggers_suppressed_total",
			Help: "Total number of triggers rejected by the dedup gate",
		},
		[]string{"reason"},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_dispatch_total",
			Help: "Total number of alert deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)

	// Ingest metrics
	IngestRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_ingest_requests_total",
			Help: "Total number of ingest requests",
		},
		[]string{"kind", "status"},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_ingest_rejected_records_total",
			Help: "Total number of records rejected by validation",
		},
		[]string{"kind"},
	)

	// Collector metrics
	CollectorRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowguard_collector_records_total",
			Help: "Total number of records submitted by collectors",
		},
		[]string{"collector", "status"},
	)
)
