package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})), mr
}

func TestLocker_AcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	locker := NewLocker(client, "fern:sync:")

	lock, err := locker.Acquire(ctx, "tenant:jira", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fern:sync:tenant:jira", lock.Key())

	_, err = locker.Acquire(ctx, "tenant:jira", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	held, err := locker.Held(ctx, "tenant:jira")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

	again, err := locker.Acquire(ctx, "tenant:jira", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_ExpiredLockCanBeRetaken(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	locker := NewLocker(client, "")

	stale, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	// the stale holder must not release the new holder's lock
	assert.ErrorIs(t, stale.Release(ctx), ErrLockNotHeld)
	assert.ErrorIs(t, stale.Extend(ctx, time.Minute), ErrLockNotHeld)
	require.NoError(t, fresh.Extend(ctx, time.Minute))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client, "")

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "t1:telegram", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(2-i), res.Remaining)
	}

	res, err := limiter.Allow(ctx, "t1:telegram", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryIn, time.Duration(0))

	other, err := limiter.Allow(ctx, "t2:telegram", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	require.NoError(t, limiter.Reset(ctx, "t1:telegram"))
	res, err = limiter.Allow(ctx, "t1:telegram", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRateLimiter_BlockFor(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client, "")

	blocked, _, err := limiter.IsBlocked(ctx, "t1:jira")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, limiter.BlockFor(ctx, "t1:jira", 30*time.Second))

	res, err := limiter.Allow(ctx, "t1:jira", 100, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.RetryIn)
}

func TestStreams_PublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	streams := NewStreams(client)

	require.NoError(t, streams.CreateConsumerGroup(ctx, "jobs", "workers"))
	require.NoError(t, streams.CreateConsumerGroup(ctx, "jobs", "workers"))

	job := &JobMessage{TenantID: "t1", Type: "sync.provider", Provider: "jira", Payload: json.RawMessage(`{"a":1}`)}
	_, err := streams.Publish(ctx, "jobs", job)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	messages, err := streams.Consume(ctx, "jobs", "workers", "c1", 10, -1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NoError(t, messages[0].Err)
	assert.Equal(t, job.ID, messages[0].Job.ID)
	assert.Equal(t, "jira", messages[0].Job.Provider)
	assert.JSONEq(t, `{"a":1}`, string(messages[0].Job.Payload))

	pending, err := streams.Pending(ctx, "jobs", "workers", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, streams.Ack(ctx, "jobs", "workers", messages[0].ID))
	pending, err = streams.Pending(ctx, "jobs", "workers", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDeadLetterQueue_ListRetryDelete(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	streams := NewStreams(client)
	dlq := NewDeadLetterQueue(client, "", client.logger)

	for _, tenant := range []string{"t1", "t2"} {
		_, err := dlq.Add(ctx, &DLQEntry{
			TenantID:    tenant,
			JobType:     "webhook.route",
			Provider:    "telegram",
			OriginalJob: &JobMessage{ID: "old", TenantID: tenant, Type: "webhook.route"},
			Reason:      DLQReasonMaxRetries,
		})
		require.NoError(t, err)
	}

	all, err := dlq.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := dlq.List(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.NotEmpty(t, mine[0].MessageID)

	entry, err := dlq.Retry(ctx, mine[0].MessageID, streams, "jobs")
	require.NoError(t, err)
	assert.Equal(t, "t1", entry.TenantID)

	length, err := streams.Len(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	_, err = dlq.Get(ctx, mine[0].MessageID)
	assert.ErrorIs(t, err, ErrDLQEntryNotFound)
	assert.ErrorIs(t, dlq.Delete(ctx, mine[0].MessageID), ErrDLQEntryNotFound)

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
