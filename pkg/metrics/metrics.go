// Package metrics provides Prometheus metrics for the fern integration hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fern"

var (
	// APIRequestsTotal tracks inbound API requests
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of inbound API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// APIRequestDuration tracks inbound API request latency
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound API requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// WebhookDeliveriesTotal tracks webhook deliveries by terminal outcome
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Total number of webhook deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderCallsTotal tracks outbound provider API calls
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total number of outbound provider calls by provider, operation and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)

	// ProviderCallDuration tracks outbound provider API latency
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of outbound provider calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"provider", "operation"},
	)

	// SyncRunsTotal tracks sync orchestrator runs
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of provider sync runs by status",
		},
		[]string{"provider", "status"},
	)

	// SyncResourcesTotal tracks resources upserted by sync runs
	SyncResourcesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "resources_total",
			Help:      "Total number of resources upserted by sync runs",
		},
		[]string{"provider"},
	)

	// AutomationActionsTotal tracks CRM actions emitted by the automation engine
	AutomationActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "actions_total",
			Help:      "Total number of automation actions by action and status",
		},
		[]string{"action", "status"},
	)

	// QueueJobsProcessed tracks jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"type", "status"},
	)

	// QueueJobsInFlight tracks jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// DLQJobsTotal tracks jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dlq_jobs_total",
			Help:      "Total number of jobs sent to the dead letter queue",
		},
		[]string{"type", "reason"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of Kafka messages published",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesConsumed tracks Kafka messages consumed
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of Kafka messages consumed",
		},
		[]string{"topic", "status"},
	)

	// NotificationsSentTotal tracks outbound Telegram notifications
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total number of notifications sent by kind and status",
		},
		[]string{"kind", "status"},
	)

	// SchedulerSyncsScheduled tracks sync jobs enqueued by the scheduler
	SchedulerSyncsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "syncs_scheduled_total",
			Help:      "Total number of sync jobs enqueued by the scheduler",
		},
		[]string{"provider", "status"},
	)
)

// RecordAPIRequest records an inbound API request metric
func RecordAPIRequest(method, route, statusCode string, durationSeconds float64) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordWebhook records the terminal outcome of a webhook delivery
func RecordWebhook(provider, outcome string) {
	WebhookDeliveriesTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordProviderCall records an outbound provider call
func RecordProviderCall(provider, operation, outcome string, durationSeconds float64) {
	ProviderCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
	ProviderCallDuration.WithLabelValues(provider, operation).Observe(durationSeconds)
}

// RecordSync records a sync run and the number of resources it upserted
func RecordSync(provider, status string, resources int) {
	SyncRunsTotal.WithLabelValues(provider, status).Inc()
	if resources > 0 {
		SyncResourcesTotal.WithLabelValues(provider).Add(float64(resources))
	}
}

// RecordAutomationAction records an automation engine action
func RecordAutomationAction(action, status string) {
	AutomationActionsTotal.WithLabelValues(action, status).Inc()
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(jobType, status string) {
	QueueJobsProcessed.WithLabelValues(jobType, status).Inc()
}

// RecordDLQJob records a dead letter queue job
func RecordDLQJob(jobType, reason string) {
	DLQJobsTotal.WithLabelValues(jobType, reason).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

// RecordKafkaConsume records a consumed Kafka message
func RecordKafkaConsume(topic, status string) {
	KafkaMessagesConsumed.WithLabelValues(topic, status).Inc()
}

// RecordNotification records an outbound notification
func RecordNotification(kind, status string) {
	NotificationsSentTotal.WithLabelValues(kind, status).Inc()
}

// RecordScheduledSync records a scheduler enqueue decision
func RecordScheduledSync(provider, status string) {
	SchedulerSyncsScheduled.WithLabelValues(provider, status).Inc()
}
