package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/redis"
)

// JobQueue accepts sync.provider jobs
type JobQueue interface {
	Enqueue(ctx context.Context, job *redis.JobMessage) (string, error)
}

// Jobs moves sync requests through the job queue. With no queue a request runs inline.
type Jobs struct {
	orchestrator *Orchestrator
	queue        JobQueue
}

func NewJobs(orchestrator *Orchestrator, queue JobQueue) *Jobs {
	return &Jobs{orchestrator: orchestrator, queue: queue}
}

// NewSyncJob builds a sync.provider job
func NewSyncJob(tenantID uuid.UUID, provider models.Provider) *redis.JobMessage {
	return &redis.JobMessage{
		ID:        uuid.NewString(),
		TenantID:  tenantID.String(),
		Type:      queue.JobTypeSyncProvider,
		Provider:  provider.String(),
		CreatedAt: time.Now().UTC(),
	}
}

// EnqueueSync asks for a background sync of provider
func (j *Jobs) EnqueueSync(ctx context.Context, tenantID uuid.UUID, provider models.Provider) error {
	if j.queue == nil {
		_, err := j.orchestrator.Sync(ctx, tenantID, provider)
		if errors.Is(err, ErrAlreadySyncing) {
			return nil
		}
		return err
	}
	if _, err := j.queue.Enqueue(ctx, NewSyncJob(tenantID, provider)); err != nil {
		return fmt.Errorf("failed to enqueue %s sync: %w", provider, err)
	}
	return nil
}

// HandleSyncJob is the queue handler for sync.provider jobs. Only transient provider
// failures are returned so the message is redelivered.
func (j *Jobs) HandleSyncJob(ctx context.Context, job *redis.JobMessage) error {
	tenantID, err := uuid.Parse(job.TenantID)
	if err != nil {
		return fmt.Errorf("invalid sync job tenant %q: %w", job.TenantID, err)
	}
	provider, err := models.ParseProvider(job.Provider)
	if err != nil {
		return fmt.Errorf("invalid sync job provider: %w", err)
	}

	_, err = j.orchestrator.Sync(ctx, tenantID, provider)
	switch {
	case err == nil,
		errors.Is(err, ErrAlreadySyncing),
		errors.Is(err, providers.ErrNotConfigured),
		errors.Is(err, providers.ErrDisabled):
		return nil
	case errors.Is(err, providers.ErrTransient):
		return err
	default:
		j.orchestrator.logger.WithContext(ctx).WithError(err).WithField("provider", provider).Warn("Sync job failed")
		return nil
	}
}
