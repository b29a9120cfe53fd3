package webhooks

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/automation"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/jira"
	"github.com/Ramsey-B/fern/pkg/providers/providertest"
	"github.com/Ramsey-B/fern/pkg/providers/telegram"
	"github.com/Ramsey-B/fern/pkg/providers/telephony"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories/memory"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*redis.JobMessage
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job *redis.JobMessage) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return "1-0", nil
}

type fakeLimiter struct{ allowed bool }

func (l fakeLimiter) AllowIngress(context.Context, string, string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: l.allowed, RetryAfter: time.Second}
}

type statusCall struct {
	provider models.Provider
	status   models.SyncStatus
	message  string
}

type fakeStatus struct {
	mu    sync.Mutex
	calls []statusCall
}

func (s *fakeStatus) SetSyncStatus(_ context.Context, _ uuid.UUID, provider models.Provider, status models.SyncStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, statusCall{provider: provider, status: status, message: errMsg})
	return nil
}

type failingRouter struct{}

func (failingRouter) Route(context.Context, *models.IntegrationEvent) *automation.RouteResult {
	return &automation.RouteResult{StepErrors: map[string]error{automation.StepLogInteraction: errors.New("db down")}}
}

type fixture struct {
	tenantID   uuid.UUID
	store      *memory.Store
	status     *fakeStatus
	normalizer *Normalizer
}

func newFixture(t *testing.T, q Enqueuer, limiter IngressLimiter) *fixture {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	resolver := providertest.Resolver(nil)
	registry := providers.NewRegistry(
		jira.New(resolver, providertest.Client(), nil, time.Second, logger),
		telegram.New(resolver, providertest.Client(), nil, time.Second, "", "", logger),
		telephony.New(resolver, providertest.Client(), nil, time.Second, logger),
	)

	f := &fixture{tenantID: uuid.New(), store: memory.NewStore(), status: &fakeStatus{}}
	router := automation.NewRouter(automation.Repositories{
		Customers:    f.store.Customers(),
		Interactions: f.store.Interactions(),
		Tasks:        f.store.Tasks(),
		Users:        f.store.Users(),
	}, nil, nil, nil, logger)
	f.normalizer = NewNormalizer(registry, router, q, limiter, f.status, logger)
	return f
}

func (f *fixture) twilioCompleted() providers.WebhookRequest {
	form := url.Values{
		"CallSid":      {"CA123"},
		"CallStatus":   {"completed"},
		"From":         {"+15550100"},
		"To":           {"+15550199"},
		"CallDuration": {"42"},
	}
	return providers.WebhookRequest{
		Provider: models.ProviderTelephony,
		Variant:  telephony.VendorTwilio,
		TenantID: f.tenantID,
		Body:     []byte(form.Encode()),
		Form:     form,
	}
}

func TestReceive_TwilioCompletedRoutedInline(t *testing.T) {
	f := newFixture(t, nil, fakeLimiter{allowed: true})

	outcome := f.normalizer.Receive(context.Background(), f.twilioCompleted())
	assert.Equal(t, OutcomeApplied, outcome)

	interactions := f.store.AllInteractions()
	require.Len(t, interactions, 1)
	assert.Equal(t, "CA123", interactions[0].ExternalID)
	assert.Equal(t, models.InteractionCompleted, interactions[0].Status)
	require.NotNil(t, interactions[0].DurationSeconds)
	assert.Equal(t, 42, *interactions[0].DurationSeconds)
	assert.Empty(t, f.status.calls)
}

func TestReceive_TelegramComplaint(t *testing.T) {
	f := newFixture(t, nil, nil)
	body := []byte(`{"update_id":1,"message":{"message_id":501,"date":1717405200,"text":"Refund now, this is unacceptable","chat":{"id":42},"from":{"id":7,"first_name":"Ann"}}}`)

	outcome := f.normalizer.Receive(context.Background(), providers.WebhookRequest{
		Provider: models.ProviderTelegram, TenantID: f.tenantID, Body: body,
	})
	assert.Equal(t, OutcomeApplied, outcome)

	interactions := f.store.AllInteractions()
	require.Len(t, interactions, 1)
	assert.Nil(t, interactions[0].CustomerID)
	tasks := f.store.AllTasks()
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].Description, "From: Ann\nMessage: Refund now, this is unacceptable")
}

func TestReceive_TelegramSameMessageIDInTwoChats(t *testing.T) {
	f := newFixture(t, nil, nil)
	deliver := func(body string) Outcome {
		return f.normalizer.Receive(context.Background(), providers.WebhookRequest{
			Provider: models.ProviderTelegram, TenantID: f.tenantID, Body: []byte(body),
		})
	}

	assert.Equal(t, OutcomeApplied, deliver(`{"update_id":1,"message":{"message_id":5,"date":1717405200,"text":"hello","chat":{"id":100},"from":{"id":1,"first_name":"Ann"}}}`))
	assert.Equal(t, OutcomeApplied, deliver(`{"update_id":2,"message":{"message_id":5,"date":1717405260,"text":"I want a refund","chat":{"id":200},"from":{"id":2,"first_name":"Bob"}}}`))

	interactions := f.store.AllInteractions()
	require.Len(t, interactions, 2)
	assert.ElementsMatch(t, []string{"100:5", "200:5"}, []string{interactions[0].ExternalID, interactions[1].ExternalID})
	assert.Len(t, f.store.AllTasks(), 1)
}

func TestReceive_JiraIssueOnlyLogged(t *testing.T) {
	f := newFixture(t, nil, nil)
	body := []byte(`{"webhookEvent":"jira:issue_updated","timestamp":1717405200000,"issue":{"key":"CRM-7","fields":{"summary":"Broken export"}}}`)

	outcome := f.normalizer.Receive(context.Background(), providers.WebhookRequest{
		Provider: models.ProviderJira, TenantID: f.tenantID, Body: body,
	})
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Empty(t, f.store.AllInteractions())
	assert.Empty(t, f.store.AllTasks())
}

func TestReceive_Unrecognized(t *testing.T) {
	f := newFixture(t, nil, nil)

	outcome := f.normalizer.Receive(context.Background(), providers.WebhookRequest{
		Provider: models.ProviderTelegram, TenantID: f.tenantID, Body: []byte(`{"update_id":2,"edited_message":{}}`),
	})
	assert.Equal(t, OutcomeUnrecognized, outcome)

	outcome = f.normalizer.Receive(context.Background(), providers.WebhookRequest{
		Provider: models.ProviderGmail, TenantID: f.tenantID, Body: []byte(`{}`),
	})
	assert.Equal(t, OutcomeUnknownProvider, outcome)
	assert.Empty(t, f.store.AllInteractions())
}

func TestReceive_RateLimitedIsDropped(t *testing.T) {
	f := newFixture(t, nil, fakeLimiter{allowed: false})

	assert.Equal(t, OutcomeRateLimited, f.normalizer.Receive(context.Background(), f.twilioCompleted()))
	assert.Empty(t, f.store.AllInteractions())
}

func TestReceive_QueuesThenRoutesJob(t *testing.T) {
	q := &fakeQueue{}
	f := newFixture(t, q, nil)

	assert.Equal(t, OutcomeQueued, f.normalizer.Receive(context.Background(), f.twilioCompleted()))
	assert.Empty(t, f.store.AllInteractions())
	require.Len(t, q.jobs, 1)

	job := q.jobs[0]
	assert.Equal(t, queue.JobTypeWebhookRoute, job.Type)
	assert.Equal(t, f.tenantID.String(), job.TenantID)
	assert.Equal(t, "telephony", job.Provider)

	require.NoError(t, f.normalizer.HandleRouteJob(context.Background(), job))
	require.NoError(t, f.normalizer.HandleRouteJob(context.Background(), job))
	interactions := f.store.AllInteractions()
	require.Len(t, interactions, 1)
	assert.Equal(t, 42, *interactions[0].DurationSeconds)

	assert.Error(t, f.normalizer.HandleRouteJob(context.Background(), &redis.JobMessage{Payload: []byte("{")}))
}

func TestReceive_QueueDownRoutesInline(t *testing.T) {
	f := newFixture(t, &fakeQueue{err: errors.New("redis down")}, nil)

	assert.Equal(t, OutcomeApplied, f.normalizer.Receive(context.Background(), f.twilioCompleted()))
	assert.Len(t, f.store.AllInteractions(), 1)
}

func TestReceive_RoutingFailureMarksConfig(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.normalizer.router = failingRouter{}

	assert.Equal(t, OutcomeFailed, f.normalizer.Receive(context.Background(), f.twilioCompleted()))
	require.Len(t, f.status.calls, 1)
	assert.Equal(t, models.ProviderTelephony, f.status.calls[0].provider)
	assert.Equal(t, models.SyncStatusError, f.status.calls[0].status)
	assert.Contains(t, f.status.calls[0].message, "db down")
}

func TestOnDeadLetter(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.normalizer.OnDeadLetter(context.Background(), &redis.DLQEntry{
		TenantID:     f.tenantID.String(),
		JobType:      queue.JobTypeWebhookRoute,
		Provider:     "telegram",
		Reason:       redis.DLQReasonMaxRetries,
		ErrorMessage: "exceeded maximum delivery count",
	})
	f.normalizer.OnDeadLetter(context.Background(), &redis.DLQEntry{TenantID: "not-a-uuid", Provider: "telegram"})

	require.Len(t, f.status.calls, 1)
	assert.Equal(t, models.ProviderTelegram, f.status.calls[0].provider)
	assert.Equal(t, "max_retries_exceeded: exceeded maximum delivery count", f.status.calls[0].message)
}
