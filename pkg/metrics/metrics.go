// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPassesTotal tracks sync passes by outcome
	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Total number of sync passes by status",
		},
		[]string{"provider", "model", "status"},
	)

	// SyncPassDuration tracks sync pass duration in seconds
	SyncPassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Duration of sync passes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"provider", "model"},
	)

	// SyncRecordsTotal tracks per-record outcomes
	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Total number of records processed by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// GateFailOpenTotal tracks sync config read failures that fell back to allow
	GateFailOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "gate",
			Name:      "fail_open_total",
			Help:      "Total number of gate decisions made without readable configuration",
		},
		[]string{"provider"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"client", "method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"client", "method"},
	)

	// WebhooksReceived tracks inbound webhooks by verification result
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "webhook",
			Name:      "received_total",
			Help:      "Total number of inbound webhooks by result",
		},
		[]string{"result"},
	)

	// QueueJobsProcessed tracks jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"kind", "status"},
	)

	// QueueJobsInFlight tracks jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// QueueDepth is the stream length seen by the last claim sweep
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of entries in the job stream",
		},
		[]string{"stream"},
	)

	// DLQJobsTotal tracks jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "dlq",
			Name:      "jobs_total",
			Help:      "Total number of jobs sent to dead letter queue",
		},
		[]string{"reason"},
	)

	// SchedulerPollsTotal tracks scheduled poll-all passes
	SchedulerPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Total number of scheduled poll passes by status",
		},
		[]string{"status"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

// RecordSyncPass records a completed sync pass.
func RecordSyncPass(provider, model, status string, duration time.Duration) {
	SyncPassesTotal.WithLabelValues(provider, model, status).Inc()
	SyncPassDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordSyncRecord records the outcome of one record: created, updated, deleted, unchanged, skipped or error.
func RecordSyncRecord(provider, outcome string) {
	SyncRecordsTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordGateFailOpen(provider string) {
	GateFailOpenTotal.WithLabelValues(provider).Inc()
}

// RecordHTTPRequest records an outbound HTTP request
func RecordHTTPRequest(client, method, statusCode string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(client, method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(client, method).Observe(duration.Seconds())
}

func RecordWebhook(result string) {
	WebhooksReceived.WithLabelValues(result).Inc()
}

// RecordJobProcessed records a job completion
func RecordJobProcessed(kind, status string) {
	QueueJobsProcessed.WithLabelValues(kind, status).Inc()
}

func SetQueueDepth(stream string, depth int64) {
	QueueDepth.WithLabelValues(stream).Set(float64(depth))
}

// RecordDLQ records a job sent to DLQ
func RecordDLQ(reason string) {
	DLQJobsTotal.WithLabelValues(reason).Inc()
}

func RecordSchedulerPoll(status string) {
	SchedulerPollsTotal.WithLabelValues(status).Inc()
}

// RecordKafkaPublish records a Kafka publish
func RecordKafkaPublish(topic, status string, duration time.Duration) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(duration.Seconds())
}
