// Package ratelimit applies per tenant and provider request budgets on top of the
// Redis sliding-window limiter. Every check fails open when Redis is unavailable.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrWaitExceeded is returned by Wait when the budget frees up too late.
var ErrWaitExceeded = errors.New("rate limit wait exceeded")

// Limit is a request budget per window.
type Limit struct {
	Requests int64
	Window   time.Duration
}

// PerMinute returns a Limit of n requests per minute.
func PerMinute(n int) Limit {
	return Limit{Requests: int64(n), Window: time.Minute}
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Manager struct {
	limiter  *redis.RateLimiter
	logger   ectologger.Logger
	outbound Limit
	ingress  Limit
}

func NewManager(client *redis.Client, logger ectologger.Logger, outbound, ingress Limit) *Manager {
	return &Manager{
		limiter:  redis.NewRateLimiter(client, "fern:ratelimit:"),
		logger:   logger,
		outbound: outbound,
		ingress:  ingress,
	}
}

func outboundKey(tenantID, provider string) string {
	return fmt.Sprintf("out:%s:%s", tenantID, provider)
}

func ingressKey(tenantID, provider string) string {
	return fmt.Sprintf("in:%s:%s", tenantID, provider)
}

func (m *Manager) check(ctx context.Context, key string, limit Limit) Decision {
	if limit.Requests <= 0 {
		return Decision{Allowed: true}
	}

	result, err := m.limiter.Allow(ctx, key, limit.Requests, limit.Window)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Warnf("Rate limit check failed for %s, allowing", key)
		return Decision{Allowed: true}
	}
	return Decision{
		Allowed:    result.Allowed,
		Remaining:  result.Remaining,
		RetryAfter: result.RetryIn,
	}
}

// AllowIngress counts one inbound webhook delivery for the tenant and provider.
func (m *Manager) AllowIngress(ctx context.Context, tenantID, provider string) Decision {
	ctx, span := tracing.StartSpan(ctx, "RateLimitManager.AllowIngress")
	defer span.End()

	return m.check(ctx, ingressKey(tenantID, provider), m.ingress)
}

// AllowOutbound counts one outbound provider call for the tenant and provider.
func (m *Manager) AllowOutbound(ctx context.Context, tenantID, provider string) Decision {
	ctx, span := tracing.StartSpan(ctx, "RateLimitManager.AllowOutbound")
	defer span.End()

	return m.check(ctx, outboundKey(tenantID, provider), m.outbound)
}

// Wait blocks until an outbound call is allowed. It gives up with ErrWaitExceeded
// when the next slot is further away than maxWait.
func (m *Manager) Wait(ctx context.Context, tenantID, provider string, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)

	for {
		decision := m.AllowOutbound(ctx, tenantID, provider)
		if decision.Allowed {
			return nil
		}

		if time.Now().Add(decision.RetryAfter).After(deadline) {
			return fmt.Errorf("%w: %s retry in %v", ErrWaitExceeded, provider, decision.RetryAfter)
		}

		m.logger.WithContext(ctx).Debugf("Rate limited for %s, waiting %v", provider, decision.RetryAfter)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(decision.RetryAfter):
		}
	}
}

// Throttle blocks outbound calls for the tenant and provider after the provider
// asked us to back off.
func (m *Manager) Throttle(ctx context.Context, tenantID, provider string, d time.Duration) {
	if err := m.limiter.BlockFor(ctx, outboundKey(tenantID, provider), d); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warnf("Failed to throttle %s", provider)
		return
	}
	m.logger.WithContext(ctx).Infof("Throttled %s for tenant %s for %v", provider, tenantID, d)
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	if t, err := time.Parse(time.RFC1123, value); err == nil {
		return time.Until(t), nil
	}

	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}
