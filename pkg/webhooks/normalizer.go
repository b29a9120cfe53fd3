// Package webhooks turns raw inbound deliveries into canonical events and hands them
// to the automation router, either through the job queue or inline.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/automation"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Outcome is the terminal state of one delivery
type Outcome string

const (
	OutcomeUnrecognized    Outcome = "unrecognized"
	OutcomeUnknownProvider Outcome = "unknown_provider"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeQueued          Outcome = "queued"
	OutcomeApplied         Outcome = "applied"
	OutcomeFailed          Outcome = "failed"
)

// Enqueuer publishes jobs to the Redis Streams queue
type Enqueuer interface {
	Enqueue(ctx context.Context, job *redis.JobMessage) (string, error)
}

// EventRouter applies automation to a canonical event
type EventRouter interface {
	Route(ctx context.Context, event *models.IntegrationEvent) *automation.RouteResult
}

// IngressLimiter counts deliveries per tenant and provider
type IngressLimiter interface {
	AllowIngress(ctx context.Context, tenantID, provider string) ratelimit.Decision
}

// StatusWriter records routing failures on the tenant's integration config
type StatusWriter interface {
	SetSyncStatus(ctx context.Context, tenantID uuid.UUID, provider models.Provider, status models.SyncStatus, errMsg string) error
}

// Normalizer runs the delivery lifecycle: received, parsed, routed, then applied or
// failed. Every delivery is acknowledged to the sender whatever the outcome.
type Normalizer struct {
	registry *providers.Registry
	router   EventRouter
	queue    Enqueuer
	limiter  IngressLimiter
	status   StatusWriter
	logger   ectologger.Logger
}

// NewNormalizer builds a normalizer. A nil queue routes events inline; a nil limiter
// accepts every delivery.
func NewNormalizer(registry *providers.Registry, router EventRouter, queue Enqueuer, limiter IngressLimiter, status StatusWriter, logger ectologger.Logger) *Normalizer {
	return &Normalizer{
		registry: registry,
		router:   router,
		queue:    queue,
		limiter:  limiter,
		status:   status,
		logger:   logger,
	}
}

// Normalize parses req with its provider's adapter. It has no side effects.
func (n *Normalizer) Normalize(_ context.Context, req providers.WebhookRequest) (*models.IntegrationEvent, error) {
	adapter, ok := n.registry.Get(req.Provider)
	if !ok {
		return nil, providers.Unrecognized(req.Provider, "no adapter registered")
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}
	return adapter.ParseWebhook(req)
}

// Receive handles one delivery end to end and reports its outcome. It never fails.
func (n *Normalizer) Receive(ctx context.Context, req providers.WebhookRequest) Outcome {
	ctx, span := tracing.StartSpan(ctx, "Normalizer.Receive")
	defer span.End()

	ctx = appctx.WithTenant(ctx, req.TenantID)
	ctx = appctx.SetProvider(ctx, req.Provider.String())
	log := n.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":  req.Provider,
		"variant":   req.Variant,
		"tenant_id": req.TenantID,
	})

	outcome := n.receive(ctx, req, log)
	metrics.RecordWebhook(req.Provider.String(), string(outcome))
	return outcome
}

func (n *Normalizer) receive(ctx context.Context, req providers.WebhookRequest, log ectologger.Logger) Outcome {
	if _, ok := n.registry.Get(req.Provider); !ok {
		log.Warn("Webhook for unknown provider")
		return OutcomeUnknownProvider
	}

	if n.limiter != nil {
		decision := n.limiter.AllowIngress(ctx, req.TenantID.String(), req.Provider.String())
		if !decision.Allowed {
			log.WithField("retry_after", decision.RetryAfter.String()).Warn("Webhook ingress rate limit exceeded, dropping delivery")
			return OutcomeRateLimited
		}
	}

	event, err := n.Normalize(ctx, req)
	if err != nil {
		if errors.Is(err, providers.ErrUnrecognized) {
			log.WithError(err).Info("Unrecognized webhook payload")
			return OutcomeUnrecognized
		}
		log.WithError(err).Error("Failed to parse webhook")
		return OutcomeFailed
	}
	log = log.WithFields(map[string]any{"event_type": event.Type, "external_id": event.ExternalID})

	if n.queue != nil {
		job, err := NewRouteJob(event)
		if err == nil {
			_, err = n.queue.Enqueue(ctx, job)
		}
		if err == nil {
			log.Debug("Webhook event queued")
			return OutcomeQueued
		}
		log.WithError(err).Warn("Failed to queue webhook event, routing inline")
	}

	return n.apply(ctx, event)
}

// apply routes event and records a failure on the tenant's config
func (n *Normalizer) apply(ctx context.Context, event *models.IntegrationEvent) Outcome {
	result := n.router.Route(ctx, event)
	if err := result.Err(); err != nil {
		n.markFailed(ctx, event.TenantID, event.Provider, err.Error())
		return OutcomeFailed
	}
	return OutcomeApplied
}

func (n *Normalizer) markFailed(ctx context.Context, tenantID uuid.UUID, provider models.Provider, message string) {
	if n.status == nil {
		return
	}
	if err := n.status.SetSyncStatus(ctx, tenantID, provider, models.SyncStatusError, message); err != nil {
		n.logger.WithContext(ctx).WithError(err).Warn("Failed to record webhook failure on integration config")
	}
}

// NewRouteJob wraps event in a webhook.route job
func NewRouteJob(event *models.IntegrationEvent) (*redis.JobMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return &redis.JobMessage{
		ID:        uuid.NewString(),
		TenantID:  event.TenantID.String(),
		Type:      queue.JobTypeWebhookRoute,
		Provider:  event.Provider.String(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// HandleRouteJob is the queue handler for webhook.route jobs. Routing failures are
// recorded and acked; only an undecodable job is returned as an error.
func (n *Normalizer) HandleRouteJob(ctx context.Context, job *redis.JobMessage) error {
	var event models.IntegrationEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		return fmt.Errorf("invalid webhook.route payload: %w", err)
	}
	outcome := n.apply(ctx, &event)
	metrics.RecordWebhook(event.Provider.String(), string(outcome))
	return nil
}

// OnDeadLetter marks the config failed when a webhook or sync job is dead-lettered
func (n *Normalizer) OnDeadLetter(ctx context.Context, entry *redis.DLQEntry) {
	tenantID, err := uuid.Parse(entry.TenantID)
	if err != nil || entry.Provider == "" {
		return
	}
	if entry.JobType == queue.JobTypeWebhookRoute {
		metrics.RecordWebhook(entry.Provider, string(OutcomeFailed))
	}
	n.markFailed(ctx, tenantID, models.Provider(entry.Provider), fmt.Sprintf("%s: %s", entry.Reason, entry.ErrorMessage))
}
