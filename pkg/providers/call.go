package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// maxLimiterWait is how long a call may queue behind the rate limiter before failing
const maxLimiterWait = 2 * time.Second

// Limiter gates outbound calls per tenant and provider
type Limiter interface {
	Wait(ctx context.Context, tenantID, provider string, maxWait time.Duration) error
	Throttle(ctx context.Context, tenantID, provider string, d time.Duration)
}

// Caller runs outbound provider calls with the rate limiter, a per-call timeout,
// metrics and error classification applied.
type Caller struct {
	provider models.Provider
	limiter  Limiter
	timeout  time.Duration
	logger   ectologger.Logger
}

// NewCaller creates a Caller. A nil limiter admits every call.
func NewCaller(provider models.Provider, limiter Limiter, timeout time.Duration, logger ectologger.Logger) *Caller {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Caller{provider: provider, limiter: limiter, timeout: timeout, logger: logger}
}

func (c *Caller) Provider() models.Provider { return c.provider }

// Do runs fn. Errors come back classified; a panic inside fn is reported as a permanent error.
func (c *Caller) Do(ctx context.Context, tenantID uuid.UUID, op string, fn func(ctx context.Context) error) (err error) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("%s.%s", c.provider, op))
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":  c.provider,
		"operation": op,
		"tenant_id": tenantID,
	})

	if c.limiter != nil {
		if waitErr := c.limiter.Wait(ctx, tenantID.String(), string(c.provider), maxLimiterWait); waitErr != nil {
			log.WithError(waitErr).Warn("Outbound call rate limited")
			metrics.RecordProviderCall(string(c.provider), op, "rate_limited", 0)
			e := NewError(c.provider, op, ErrTransient, http.StatusTooManyRequests, "rate limit exceeded, retry later")
			e.err = waitErr
			return e
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Provider call panicked")
			err = NewError(c.provider, op, ErrPermanent, 0, "internal adapter error")
		}
		metrics.RecordProviderCall(string(c.provider), op, outcome(err), time.Since(start).Seconds())
	}()

	err = fn(callCtx)
	if err == nil {
		log.Debugf("%s %s succeeded in %s", c.provider, op, time.Since(start))
		return nil
	}

	var pe *Error
	if !errors.As(err, &pe) {
		pe = Transient(c.provider, op, err)
	}
	if pe.Op == "" {
		pe.Op = op
	}

	if pe.StatusCode == http.StatusTooManyRequests && pe.RetryAfter > 0 && c.limiter != nil {
		c.limiter.Throttle(ctx, tenantID.String(), string(c.provider), pe.RetryAfter)
	}

	log = log.WithError(err).WithField("status_code", pe.StatusCode)
	if pe.body != "" {
		log = log.WithField("provider_body", pe.body)
	}
	if errors.Is(pe, ErrTransient) {
		log.Warn("Provider call failed")
	} else {
		log.Info("Provider call rejected")
	}
	return pe
}

// Check converts a resty result into a classified error
func Check(provider models.Provider, op string, resp *resty.Response, err error) error {
	if err != nil {
		return Transient(provider, op, err)
	}
	if resp.IsError() {
		e := FromStatus(provider, op, resp.StatusCode(), resp.String())
		if retry := resp.Header().Get("Retry-After"); retry != "" {
			if d, perr := ratelimit.ParseRetryAfter(retry); perr == nil {
				e.RetryAfter = d
			}
		}
		return e
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "permanent"
	}
}
