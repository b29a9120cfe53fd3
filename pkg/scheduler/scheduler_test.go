package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
)

type fakeLister struct {
	due       []models.IntegrationConfig
	providers []models.Provider
	before    time.Time
}

func (f *fakeLister) ListDueForSync(_ context.Context, providers []models.Provider, syncedBefore time.Time, _ int) ([]models.IntegrationConfig, error) {
	f.providers = providers
	f.before = syncedBefore
	return f.due, nil
}

type queued struct {
	tenantID uuid.UUID
	provider models.Provider
}

type fakeSyncs struct {
	queued []queued
	err    error
}

func (f *fakeSyncs) EnqueueSync(_ context.Context, tenantID uuid.UUID, provider models.Provider) error {
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, queued{tenantID, provider})
	return nil
}

func newScheduler(t *testing.T, lister DueLister, syncs SyncEnqueuer) (*Scheduler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewScheduler(lister, syncs, redis.Wrap(rdb, logger), DefaultConfig(), logger), mr
}

func TestRunCycle_QueuesDueConfigsOnce(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()
	lister := &fakeLister{due: []models.IntegrationConfig{
		{TenantID: tenantA, Provider: models.ProviderJira},
		{TenantID: tenantB, Provider: models.ProviderGmail},
	}}
	syncs := &fakeSyncs{}
	s, mr := newScheduler(t, lister, syncs)
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.Equal(t, 2, s.RunCycle(context.Background()))
	assert.Equal(t, []queued{{tenantA, models.ProviderJira}, {tenantB, models.ProviderGmail}}, syncs.queued)
	assert.Equal(t, now.Add(-15*time.Minute), lister.before)
	assert.NotContains(t, lister.providers, models.ProviderTelegram)
	assert.Contains(t, lister.providers, models.ProviderCalendar)

	// a second poll inside the lock window queues nothing
	assert.Equal(t, 0, s.RunCycle(context.Background()))
	assert.Len(t, syncs.queued, 2)

	mr.FastForward(DefaultLockTTL + time.Second)
	assert.Equal(t, 2, s.RunCycle(context.Background()))
}

func TestRunCycle_EnqueueFailureReleasesLock(t *testing.T) {
	lister := &fakeLister{due: []models.IntegrationConfig{{TenantID: uuid.New(), Provider: models.ProviderLinear}}}
	syncs := &fakeSyncs{err: errors.New("stream unavailable")}
	s, _ := newScheduler(t, lister, syncs)

	assert.Equal(t, 0, s.RunCycle(context.Background()))

	syncs.err = nil
	assert.Equal(t, 1, s.RunCycle(context.Background()))
}

func TestScheduler_StartStop(t *testing.T) {
	s, _ := newScheduler(t, &fakeLister{}, &fakeSyncs{})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
}
