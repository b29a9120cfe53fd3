package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/redis"
)

func newManager(t *testing.T, outbound, ingress Limit) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewManager(redis.Wrap(rdb, logger), logger, outbound, ingress), mr
}

func TestManager_IngressPerTenantAndProvider(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, PerMinute(100), PerMinute(2))

	assert.True(t, m.AllowIngress(ctx, "t1", "telegram").Allowed)
	assert.True(t, m.AllowIngress(ctx, "t1", "telegram").Allowed)
	assert.False(t, m.AllowIngress(ctx, "t1", "telegram").Allowed)

	assert.True(t, m.AllowIngress(ctx, "t1", "jira").Allowed)
	assert.True(t, m.AllowIngress(ctx, "t2", "telegram").Allowed)
	// the outbound budget is separate
	assert.True(t, m.AllowOutbound(ctx, "t1", "telegram").Allowed)
}

func TestManager_FailsOpenWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	m, mr := newManager(t, PerMinute(1), PerMinute(1))
	mr.Close()

	assert.True(t, m.AllowOutbound(ctx, "t1", "jira").Allowed)
	assert.True(t, m.AllowOutbound(ctx, "t1", "jira").Allowed)
}

func TestManager_ZeroLimitDisables(t *testing.T) {
	m, _ := newManager(t, Limit{}, Limit{})
	for i := 0; i < 5; i++ {
		assert.True(t, m.AllowOutbound(context.Background(), "t1", "linear").Allowed)
	}
}

func TestManager_ThrottleAndWait(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, PerMinute(100), PerMinute(100))

	require.NoError(t, m.Wait(ctx, "t1", "jira", time.Second))

	m.Throttle(ctx, "t1", "jira", time.Minute)
	decision := m.AllowOutbound(ctx, "t1", "jira")
	assert.False(t, decision.Allowed)

	err := m.Wait(ctx, "t1", "jira", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	d, err := ParseRetryAfter(" 30 ")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	future := time.Now().Add(90 * time.Second).UTC().Format(time.RFC1123)
	d, err = ParseRetryAfter(future)
	require.NoError(t, err)
	assert.InDelta(t, 90, d.Seconds(), 2)

	_, err = ParseRetryAfter("soon")
	assert.Error(t, err)
}
