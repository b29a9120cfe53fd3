package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/redis"
)

func newTestProcessor(t *testing.T, cfg ProcessorConfig) (*Processor, *redis.Streams, *redis.DeadLetterQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client := redis.Wrap(rdb, logger)
	streams := redis.NewStreams(client)
	dlq := redis.NewDeadLetterQueue(client, "", logger)

	cfg.Stream = "jobs"
	cfg.ConsumerGroup = "workers"
	cfg.ConsumerName = "c1"
	p := NewProcessor(streams, dlq, cfg, logger)
	require.NoError(t, streams.CreateConsumerGroup(context.Background(), "jobs", "workers"))
	return p, streams, dlq, mr
}

func TestProcessor_ProcessRunsRegisteredHandler(t *testing.T) {
	ctx := context.Background()
	p, streams, _, _ := newTestProcessor(t, ProcessorConfig{})

	var gotTenant, gotProvider string
	p.Handle(JobTypeSyncProvider, func(ctx context.Context, job *redis.JobMessage) error {
		gotTenant = appctx.GetTenantID(ctx)
		gotProvider = appctx.GetProvider(ctx)
		return nil
	})

	_, err := p.Enqueue(ctx, &redis.JobMessage{TenantID: "t1", Type: JobTypeSyncProvider, Provider: "jira"})
	require.NoError(t, err)

	messages, err := streams.Consume(ctx, "jobs", "workers", "c1", 10, -1)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	require.NoError(t, p.process(ctx, messages[0]))
	assert.Equal(t, "t1", gotTenant)
	assert.Equal(t, "jira", gotProvider)
}

func TestProcessor_UnknownJobType(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newTestProcessor(t, ProcessorConfig{})

	err := p.process(ctx, redis.StreamMessage{ID: "1-0", Job: &redis.JobMessage{ID: "j", Type: "nope"}})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestProcessor_HandlerPanicBecomesError(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newTestProcessor(t, ProcessorConfig{})
	p.Handle(JobTypeWebhookRoute, func(context.Context, *redis.JobMessage) error { panic("boom") })

	err := p.process(ctx, redis.StreamMessage{ID: "1-0", Job: &redis.JobMessage{ID: "j", Type: JobTypeWebhookRoute}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestProcessor_ClaimPendingDeadLettersExhaustedJobs(t *testing.T) {
	ctx := context.Background()
	p, streams, dlq, mr := newTestProcessor(t, ProcessorConfig{MaxRetries: 1, ClaimMinIdle: time.Minute})

	var hooked *redis.DLQEntry
	p.OnDeadLetter(func(_ context.Context, entry *redis.DLQEntry) { hooked = entry })

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(start)

	_, err := p.Enqueue(ctx, &redis.JobMessage{TenantID: "t1", Type: JobTypeWebhookRoute, Provider: "telegram"})
	require.NoError(t, err)
	messages, err := streams.Consume(ctx, "jobs", "workers", "c1", 10, -1)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	// a second delivery through a claim
	_, err = streams.Claim(ctx, "jobs", "workers", "c1", 0, messages[0].ID)
	require.NoError(t, err)

	mr.SetTime(start.Add(2 * time.Minute))
	p.claimPending(ctx)

	require.NotNil(t, hooked)
	assert.Equal(t, "t1", hooked.TenantID)
	assert.Equal(t, "telegram", hooked.Provider)
	assert.Equal(t, redis.DLQReasonMaxRetries, hooked.Reason)

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	pending, err := streams.Pending(ctx, "jobs", "workers", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessor_ClaimPendingRedispatchesStaleJobs(t *testing.T) {
	ctx := context.Background()
	p, streams, _, mr := newTestProcessor(t, ProcessorConfig{MaxRetries: 3, ClaimMinIdle: time.Minute})
	p.jobsCh = make(chan redis.StreamMessage, 4)
	p.stopCh = make(chan struct{})

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(start)

	_, err := p.Enqueue(ctx, &redis.JobMessage{TenantID: "t1", Type: JobTypeSyncProvider})
	require.NoError(t, err)
	_, err = streams.Consume(ctx, "jobs", "workers", "c1", 10, -1)
	require.NoError(t, err)

	mr.SetTime(start.Add(2 * time.Minute))
	p.claimPending(ctx)

	require.Len(t, p.jobsCh, 1)
	msg := <-p.jobsCh
	assert.Equal(t, JobTypeSyncProvider, msg.Job.Type)
}

func TestProcessor_StartStop(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newTestProcessor(t, ProcessorConfig{BlockTimeout: 20 * time.Millisecond, WorkerCount: 2})

	var handled atomic.Int32
	p.Handle(JobTypeWebhookRoute, func(context.Context, *redis.JobMessage) error {
		handled.Add(1)
		return nil
	})

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.IsRunning())

	_, err := p.Enqueue(ctx, &redis.JobMessage{TenantID: "t1", Type: JobTypeWebhookRoute})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return handled.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(stopCtx))
	assert.False(t, p.IsRunning())
}
