// Package scheduler periodically queues pull syncs for integrations whose last sync is
// older than the sync interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	DefaultPollInterval = time.Minute
	DefaultSyncInterval = 15 * time.Minute
	DefaultLockTTL      = 60 * time.Second
	DefaultBatchSize    = 100

	// LockKeyPrefix is the prefix for scheduling locks
	LockKeyPrefix = "fern:scheduler:"
)

// DueLister lists configs across all tenants that have not synced since syncedBefore
type DueLister interface {
	ListDueForSync(ctx context.Context, providers []models.Provider, syncedBefore time.Time, limit int) ([]models.IntegrationConfig, error)
}

// SyncEnqueuer queues a sync for one tenant and provider
type SyncEnqueuer interface {
	EnqueueSync(ctx context.Context, tenantID uuid.UUID, provider models.Provider) error
}

type Config struct {
	PollInterval time.Duration
	SyncInterval time.Duration
	LockTTL      time.Duration
	BatchSize    int
	// Providers limits scheduling to these providers; empty means every pull-capable one
	Providers []models.Provider
}

func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		SyncInterval: DefaultSyncInterval,
		LockTTL:      DefaultLockTTL,
		BatchSize:    DefaultBatchSize,
	}
}

// Scheduler polls for configs due a sync and queues them
type Scheduler struct {
	repo   DueLister
	syncs  SyncEnqueuer
	locker *redis.Locker
	config Config
	logger ectologger.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(repo DueLister, syncs SyncEnqueuer, client *redis.Client, config Config, logger ectologger.Logger) *Scheduler {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if len(config.Providers) == 0 {
		config.Providers = pullCapable()
	}

	return &Scheduler{
		repo:   repo,
		syncs:  syncs,
		locker: redis.NewLocker(client, LockKeyPrefix),
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func pullCapable() []models.Provider {
	var out []models.Provider
	for _, p := range models.Providers {
		if p.PullCapable() {
			out = append(out, p)
		}
	}
	return out
}

// Start runs a cycle immediately and then one per poll interval until Stop.
// The loop outlives ctx's cancellation; only Stop ends it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSchedulerAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"poll_interval": s.config.PollInterval.String(),
		"sync_interval": s.config.SyncInterval.String(),
		"batch_size":    s.config.BatchSize,
	}).Info("Starting scheduler")

	go s.loop(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight cycle until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		s.logger.WithContext(ctx).Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		s.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle queues every due config once. It returns how many syncs were queued.
func (s *Scheduler) RunCycle(ctx context.Context) int {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RunCycle")
	defer span.End()

	start := time.Now()
	due, err := s.repo.ListDueForSync(ctx, s.config.Providers, s.now().Add(-s.config.SyncInterval), s.config.BatchSize)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list configs due for sync")
		return 0
	}
	if len(due) == 0 {
		s.logger.WithContext(ctx).Debug("No integrations due for sync")
		return 0
	}

	scheduled, skipped := 0, 0
	for _, config := range due {
		err := s.schedule(ctx, config)
		switch {
		case err == nil:
			scheduled++
			metrics.RecordScheduledSync(config.Provider.String(), "queued")
		case errors.Is(err, redis.ErrLockNotAcquired):
			skipped++
			metrics.RecordScheduledSync(config.Provider.String(), "skipped")
		default:
			metrics.RecordScheduledSync(config.Provider.String(), "error")
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to schedule %s sync for tenant %s", config.Provider, config.TenantID)
		}
	}

	s.logger.WithContext(ctx).Infof("Scheduling cycle completed: scheduled=%d skipped=%d duration=%s",
		scheduled, skipped, time.Since(start))
	return scheduled
}

// schedule holds the lock for the lock TTL so another instance polling in the same
// window does not queue the config twice.
func (s *Scheduler) schedule(ctx context.Context, config models.IntegrationConfig) error {
	ctx = appctx.WithTenant(ctx, config.TenantID)
	ctx = appctx.SetProvider(ctx, config.Provider.String())

	lock, err := s.locker.Acquire(ctx, config.TenantID.String()+":"+config.Provider.String(), s.config.LockTTL)
	if err != nil {
		return err
	}
	if err := s.syncs.EnqueueSync(ctx, config.TenantID, config.Provider); err != nil {
		_ = lock.Release(ctx)
		return err
	}
	s.logger.WithContext(ctx).Debugf("Scheduled %s sync", config.Provider)
	return nil
}
