// Package sync pulls resources from providers into the CRM tables. A run holds a Redis
// lock per tenant and provider and records its outcome on the integration config.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	LockPrefix      = "fern:sync:"
	DefaultLockTTL  = 10 * time.Minute
	DefaultBackoff  = 500 * time.Millisecond
	DefaultAttempts = 3
)

// ErrAlreadySyncing is returned when another run holds the tenant's provider lock
var ErrAlreadySyncing = errors.New("sync already in progress")

// ConfigStore reads configs and records sync outcomes
type ConfigStore interface {
	Get(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error)
	Resolve(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error)
	SetSyncStatus(ctx context.Context, tenantID uuid.UUID, provider models.Provider, status models.SyncStatus, errMsg string) error
}

// LeadCreator finds or creates the customer behind an email sender
type LeadCreator interface {
	AutoCreateLeadFromEmail(ctx context.Context, tenantID uuid.UUID, from string) (*models.Customer, bool, error)
}

// SyncResult is the outcome of one provider run
type SyncResult struct {
	Provider models.Provider `json:"provider"`
	Count    int             `json:"count"`
}

// SyncAllResult aggregates a multi-provider run
type SyncAllResult struct {
	Results map[models.Provider]int    `json:"results"`
	Errors  map[models.Provider]string `json:"errors"`
	Total   int                        `json:"total"`
}

// IssueStatus summarizes tracked issues for the sync status endpoint
type IssueStatus struct {
	Total            int  `json:"total"`
	Jira             int  `json:"jira"`
	Linear           int  `json:"linear"`
	Internal         int  `json:"internal"`
	JiraConfigured   bool `json:"jiraConfigured"`
	LinearConfigured bool `json:"linearConfigured"`
}

type Options struct {
	LockTTL     time.Duration
	Backoff     time.Duration
	MaxAttempts int
}

// Orchestrator runs pull syncs
type Orchestrator struct {
	configs      ConfigStore
	registry     *providers.Registry
	locker       *redis.Locker
	interactions repositories.InteractionRepo
	issues       repositories.TrackedIssueRepo
	leads        LeadCreator
	logger       ectologger.Logger
	options      Options
	sleep        func(time.Duration) <-chan time.Time
	now          func() time.Time
}

// NewOrchestrator builds an orchestrator. leads may be nil, in which case synced
// emails are not linked to customers.
func NewOrchestrator(configs ConfigStore, registry *providers.Registry, client *redis.Client, interactions repositories.InteractionRepo, issues repositories.TrackedIssueRepo, leads LeadCreator, options Options, logger ectologger.Logger) *Orchestrator {
	if options.LockTTL <= 0 {
		options.LockTTL = DefaultLockTTL
	}
	if options.Backoff <= 0 {
		options.Backoff = DefaultBackoff
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = DefaultAttempts
	}
	return &Orchestrator{
		configs:      configs,
		registry:     registry,
		locker:       redis.NewLocker(client, LockPrefix),
		interactions: interactions,
		issues:       issues,
		leads:        leads,
		logger:       logger,
		options:      options,
		sleep:        time.After,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Syncable lists the registered providers that can be pulled
func (o *Orchestrator) Syncable() []models.Provider {
	var out []models.Provider
	for _, p := range o.registry.Providers() {
		if p.PullCapable() {
			out = append(out, p)
		}
	}
	return out
}

// Sync pulls one provider for a tenant. NotConfigured and Disabled come back unchanged;
// a concurrent run yields ErrAlreadySyncing.
func (o *Orchestrator) Sync(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.Sync")
	defer span.End()

	ctx = appctx.WithTenant(ctx, tenantID)
	ctx = appctx.SetProvider(ctx, provider.String())
	log := o.logger.WithContext(ctx).WithFields(map[string]any{"tenant_id": tenantID, "provider": provider})

	adapter, ok := o.registry.Get(provider)
	if !ok || !provider.PullCapable() {
		return nil, providers.Permanent(provider, "sync", "provider does not support sync")
	}
	if _, err := o.configs.Resolve(ctx, tenantID, provider); err != nil {
		return nil, err
	}

	lock, err := o.locker.Acquire(ctx, fmt.Sprintf("%s:%s", tenantID, provider), o.options.LockTTL)
	if errors.Is(err, redis.ErrLockNotAcquired) {
		log.Info("Sync already running, skipping")
		return nil, ErrAlreadySyncing
	}
	if err != nil {
		return nil, providers.Transient(provider, "sync", fmt.Errorf("failed to acquire sync lock: %w", err))
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release sync lock")
		}
	}()

	o.setStatus(ctx, tenantID, provider, models.SyncStatusSyncing, "")
	log.Info("Sync started")

	count, err := o.run(ctx, adapter, tenantID, provider)
	if err != nil {
		o.setStatus(ctx, tenantID, provider, models.SyncStatusError, err.Error())
		metrics.RecordSync(provider.String(), string(models.SyncStatusError), count)
		log.WithError(err).WithField("count", count).Error("Sync failed")
		return &SyncResult{Provider: provider, Count: count}, err
	}

	o.setStatus(ctx, tenantID, provider, models.SyncStatusSuccess, "")
	metrics.RecordSync(provider.String(), string(models.SyncStatusSuccess), count)
	log.WithField("count", count).Info("Sync completed")
	return &SyncResult{Provider: provider, Count: count}, nil
}

func (o *Orchestrator) run(ctx context.Context, adapter providers.Adapter, tenantID uuid.UUID, provider models.Provider) (int, error) {
	resources, err := o.list(ctx, adapter, tenantID, Window(provider, o.now()))
	if err != nil {
		return 0, err
	}

	count := 0
	var failures []string
	for _, resource := range resources {
		if err := o.upsert(ctx, tenantID, resource); err != nil {
			o.logger.WithContext(ctx).WithError(err).WithField("external_id", resource.ExternalID).Warn("Failed to store synced resource")
			failures = append(failures, fmt.Sprintf("%s: %v", resource.ExternalID, err))
			continue
		}
		count++
	}
	if len(failures) > 0 {
		return count, fmt.Errorf("%d of %d resources failed to store: %s", len(failures), len(resources), strings.Join(failures, "; "))
	}
	return count, nil
}

// list retries transient failures with exponential backoff. Nothing else is retried.
func (o *Orchestrator) list(ctx context.Context, adapter providers.Adapter, tenantID uuid.UUID, filter providers.ListFilter) ([]models.ExternalResource, error) {
	var lastErr error
	for attempt := 0; attempt < o.options.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := o.options.Backoff << (attempt - 1)
			o.logger.WithContext(ctx).WithError(lastErr).Warnf("Sync read failed, retrying in %v (attempt %d/%d)", wait, attempt+1, o.options.MaxAttempts)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-o.sleep(wait):
			}
		}

		resources, err := adapter.ListResources(ctx, tenantID, filter)
		if err == nil {
			return resources, nil
		}
		if !errors.Is(err, providers.ErrTransient) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (o *Orchestrator) upsert(ctx context.Context, tenantID uuid.UUID, resource models.ExternalResource) error {
	if resource.Kind == models.ResourceIssue {
		_, err := o.issues.Upsert(ctx, TrackedIssue(resource, o.now()))
		return err
	}

	interaction := Interaction(resource)
	if interaction == nil {
		return nil
	}
	if resource.Kind == models.ResourceEmail && interaction.Direction == models.DirectionInbound && o.leads != nil {
		if from := resource.Field(models.FieldFrom); from != "" {
			customer, _, err := o.leads.AutoCreateLeadFromEmail(ctx, tenantID, from)
			if err != nil {
				o.logger.WithContext(ctx).WithError(err).WithField("from", from).Debug("No lead for email sender")
			} else {
				interaction.CustomerID = &customer.ID
				interaction.AccountID = customer.AccountID
			}
		}
	}
	_, err := o.interactions.Upsert(ctx, interaction)
	return err
}

func (o *Orchestrator) setStatus(ctx context.Context, tenantID uuid.UUID, provider models.Provider, status models.SyncStatus, message string) {
	if err := o.configs.SetSyncStatus(ctx, tenantID, provider, status, message); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warnf("Failed to set sync status %s", status)
	}
}

// SyncAll runs the given providers one after another, or every syncable provider when
// none are given. Providers that are not configured or disabled count zero.
func (o *Orchestrator) SyncAll(ctx context.Context, tenantID uuid.UUID, list ...models.Provider) *SyncAllResult {
	if len(list) == 0 {
		list = o.Syncable()
	}
	result := &SyncAllResult{
		Results: make(map[models.Provider]int, len(list)),
		Errors:  make(map[models.Provider]string),
	}
	for _, provider := range list {
		r, err := o.Sync(ctx, tenantID, provider)
		switch {
		case err == nil:
			result.Results[provider] = r.Count
			result.Total += r.Count
		case errors.Is(err, providers.ErrNotConfigured), errors.Is(err, providers.ErrDisabled):
			result.Results[provider] = 0
		default:
			result.Results[provider] = 0
			if r != nil {
				result.Results[provider] = r.Count
				result.Total += r.Count
			}
			result.Errors[provider] = err.Error()
		}
	}
	return result
}

// Status counts tracked issues and reports which issue trackers are connected
func (o *Orchestrator) Status(ctx context.Context, tenantID uuid.UUID) (*IssueStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.Status")
	defer span.End()
	ctx = appctx.WithTenant(ctx, tenantID)

	counts, err := o.issues.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &IssueStatus{
		Total:            counts.Total,
		Jira:             counts.Jira,
		Linear:           counts.Linear,
		Internal:         counts.Internal,
		JiraConfigured:   o.configured(ctx, tenantID, models.ProviderJira),
		LinearConfigured: o.configured(ctx, tenantID, models.ProviderLinear),
	}, nil
}

func (o *Orchestrator) configured(ctx context.Context, tenantID uuid.UUID, provider models.Provider) bool {
	config, err := o.configs.Get(ctx, tenantID, provider)
	return err == nil && config != nil && config.Enabled
}
