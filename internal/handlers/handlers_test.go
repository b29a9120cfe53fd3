package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/automation"
	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/jira"
	"github.com/Ramsey-B/fern/pkg/providers/linear"
	"github.com/Ramsey-B/fern/pkg/providers/providertest"
	"github.com/Ramsey-B/fern/pkg/providers/telegram"
	"github.com/Ramsey-B/fern/pkg/providers/telephony"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories/memory"
	fernsync "github.com/Ramsey-B/fern/pkg/sync"
	"github.com/Ramsey-B/fern/pkg/webhooks"
)

type harness struct {
	tenantID uuid.UUID
	store    *memory.Store
	configs  *credentials.Store
	registry *providers.Registry
	e        *echo.Echo
	api      *echo.Group
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := providertest.Logger()
	store := memory.NewStore()
	configs := credentials.NewStore(store.Configs(), logger)
	registry := providers.NewRegistry(
		jira.New(configs, providertest.Client(), nil, time.Second, logger),
		linear.New(configs, providertest.Client(), nil, time.Second, "", logger),
		telegram.New(configs, providertest.Client(), nil, time.Second, "", "", logger),
		telephony.New(configs, providertest.Client(), nil, time.Second, logger),
	)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger, MapError)
	e.Use(middleware.Context(true))

	h := &harness{
		tenantID: uuid.New(),
		store:    store,
		configs:  configs,
		registry: registry,
		e:        e,
		api:      e.Group("/api/v1"),
	}
	NewIntegrationHandler(configs, logger).RegisterRoutes(h.api)

	router := automation.NewRouter(automation.Repositories{
		Customers:    store.Customers(),
		Interactions: store.Interactions(),
		Tasks:        store.Tasks(),
		Users:        store.Users(),
	}, nil, nil, nil, logger)
	normalizer := webhooks.NewNormalizer(registry, router, nil, nil, configs, logger)
	NewWebhookHandler(normalizer, logger).RegisterRoutes(h.api)
	return h
}

func (h *harness) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	req.Header.Set(middleware.HeaderTenantID, h.tenantID.String())
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func (h *harness) json(method, path, body string) *httptest.ResponseRecorder {
	return h.do(method, path, echo.MIMEApplicationJSON, body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWebhook_TwilioCompletedAcksWithTwiML(t *testing.T) {
	h := newHarness(t)
	form := url.Values{
		"CallSid":      {"CA123"},
		"CallStatus":   {"completed"},
		"From":         {"+15550100"},
		"To":           {"+15550199"},
		"CallDuration": {"42"},
	}

	rec := h.do(http.MethodPost, "/api/v1/webhooks/telephony/twilio/"+h.tenantID.String(), echo.MIMEApplicationForm, form.Encode())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, TwilioAck, rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationXML)

	interactions := h.store.AllInteractions()
	require.Len(t, interactions, 1)
	assert.Equal(t, "CA123", interactions[0].ExternalID)
	assert.Equal(t, models.InteractionCompleted, interactions[0].Status)
	require.NotNil(t, interactions[0].DurationSeconds)
	assert.Equal(t, 42, *interactions[0].DurationSeconds)
}

func TestWebhook_JiraIssueOnlyLogged(t *testing.T) {
	h := newHarness(t)
	body := `{"webhookEvent":"jira:issue_updated","timestamp":1717405200000,"issue":{"key":"CRM-7","fields":{"summary":"Broken export"}}}`

	rec := h.json(http.MethodPost, "/api/v1/webhooks/jira/"+h.tenantID.String(), body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(webhooks.OutcomeApplied), decode[WebhookResponse](t, rec).Status)
	assert.Empty(t, h.store.AllInteractions())
	assert.Empty(t, h.store.AllTasks())
}

func TestWebhook_TelegramComplaintCreatesTask(t *testing.T) {
	h := newHarness(t)
	body := `{"update_id":1,"message":{"message_id":501,"date":1717405200,"text":"Refund now, this is unacceptable","chat":{"id":42},"from":{"id":7,"first_name":"Ann"}}}`

	rec := h.json(http.MethodPost, "/api/v1/webhooks/telegram/"+h.tenantID.String(), body)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.store.AllInteractions(), 1)
	tasks := h.store.AllTasks()
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].Description, "Refund now, this is unacceptable")
}

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	h := newHarness(t)

	rec := h.json(http.MethodPost, "/api/v1/webhooks/telegram/not-a-uuid", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(webhooks.OutcomeUnrecognized), decode[WebhookResponse](t, rec).Status)

	rec = h.json(http.MethodPost, "/api/v1/webhooks/fax/"+h.tenantID.String(), `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(webhooks.OutcomeUnknownProvider), decode[WebhookResponse](t, rec).Status)

	rec = h.json(http.MethodPost, "/api/v1/webhooks/telegram/"+h.tenantID.String(), `{"update_id":2,"edited_message":{}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(webhooks.OutcomeUnrecognized), decode[WebhookResponse](t, rec).Status)
}

func TestWebhook_VonageAnswersJSON(t *testing.T) {
	h := newHarness(t)

	rec := h.json(http.MethodPost, "/api/v1/webhooks/telephony/Vonage/"+h.tenantID.String(), `{"uuid":"v-1","status":"ringing","from":"15550100","to":"15550199"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}

func TestIntegration_SaveConfigDefaultsToEnabled(t *testing.T) {
	h := newHarness(t)

	rec := h.json(http.MethodPost, "/api/v1/integrations/config/jira",
		`{"config":{"baseUrl":"https://acme.atlassian.net/","email":"ops@acme.io"},"credentials":{"apiToken":"secret"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status := decode[models.IntegrationStatus](t, rec)
	assert.True(t, status.Enabled)
	assert.True(t, status.Configured)
	assert.Equal(t, models.SyncStatusIdle, status.LastSyncStatus)
	assert.Equal(t, "https://acme.atlassian.net", status.Config["baseUrl"])
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestIntegration_SaveConfigRequiresCredentials(t *testing.T) {
	h := newHarness(t)

	rec := h.json(http.MethodPost, "/api/v1/integrations/config/jira", `{"config":{"baseUrl":"https://acme.atlassian.net"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[middleware.ErrorResponse](t, rec).Message, "Credentials failed 'required'")

	rec = h.json(http.MethodPost, "/api/v1/integrations/config/fax", `{"credentials":{"k":"v"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntegration_DisableUnconfiguredIsPreconditionFailed(t *testing.T) {
	h := newHarness(t)

	rec := h.json(http.MethodPost, "/api/v1/integrations/linear/disable", "")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "not_configured", decode[middleware.ErrorResponse](t, rec).Meta["reason"])
}

func TestIntegration_StatusListsEveryProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.configs.Save(context.Background(), h.tenantID, models.ProviderLinear, nil, map[string]any{"apiKey": "k"}, false)
	require.NoError(t, err)

	rec := h.json(http.MethodGet, "/api/v1/integrations/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	statuses := decode[[]models.IntegrationStatus](t, rec)
	assert.Len(t, statuses, len(models.Providers))

	rec = h.json(http.MethodGet, "/api/v1/integrations/status/gmail", "")
	require.Equal(t, http.StatusOK, rec.Code)
	gmail := decode[models.IntegrationStatus](t, rec)
	assert.False(t, gmail.Configured)
	assert.False(t, gmail.Enabled)

	rec = h.json(http.MethodPost, "/api/v1/integrations/linear/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.IntegrationStatus](t, rec).Enabled)

	rec = h.json(http.MethodDelete, "/api/v1/integrations/linear", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.json(http.MethodDelete, "/api/v1/integrations/linear", "")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestIntegration_SaveTelegramChatIDs(t *testing.T) {
	h := newHarness(t)

	rec := h.json(http.MethodPost, "/api/v1/integrations/telegram/chat-ids", `{"chatIds":[-1001,"42"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	config, err := h.configs.Get(context.Background(), h.tenantID, models.ProviderTelegram)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1001, 42}, credentials.ChatIDs(config))

	rec = h.json(http.MethodPost, "/api/v1/integrations/telegram/chat-ids", `{"chatIds":["general"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSync_RunningSyncIsConflict(t *testing.T) {
	h := newHarness(t)
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := providertest.Logger()

	orchestrator := fernsync.NewOrchestrator(h.configs, h.registry, redis.Wrap(rdb, logger), h.store.Interactions(), h.store.Issues(), nil, fernsync.Options{}, logger)
	NewSyncHandler(orchestrator).RegisterRoutes(h.api)

	_, err := h.configs.Save(context.Background(), h.tenantID, models.ProviderJira, map[string]any{"baseUrl": "https://acme.atlassian.net"}, map[string]any{"apiToken": "t"}, true)
	require.NoError(t, err)
	require.NoError(t, mr.Set(fernsync.LockPrefix+h.tenantID.String()+":jira", "other-worker"))

	rec := h.json(http.MethodPost, "/api/v1/issues/sync/jira", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_syncing", decode[middleware.ErrorResponse](t, rec).Meta["reason"])

	rec = h.json(http.MethodPost, "/api/v1/issues/sync/linear", "")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = h.json(http.MethodPost, "/api/v1/issues/sync/telegram", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeNotifier struct {
	kinds []string
}

func (n *fakeNotifier) Notify(_ context.Context, _ uuid.UUID, kind, _ string) bool {
	n.kinds = append(n.kinds, kind)
	return true
}

func TestTelegram_WebhookDefaultsToHubURL(t *testing.T) {
	var registered string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bottok/setWebhook":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			registered, _ = body["url"].(string)
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		case "/bottok/getMe":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Fern","username":"fern_bot"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t)
	adapter := telegram.New(h.configs, providertest.Client(), nil, time.Second, srv.URL, "tok", providertest.Logger())
	notifier := &fakeNotifier{}
	NewTelegramHandler(adapter, notifier, "https://hub.example.com/").RegisterRoutes(h.api)

	rec := h.json(http.MethodPost, "/api/v1/integrations/telegram/webhook", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://hub.example.com/api/v1/webhooks/telegram/"+h.tenantID.String(), registered)

	rec = h.json(http.MethodPost, "/api/v1/integrations/telegram/test", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rec)["sent"])
	assert.Equal(t, []string{"test"}, notifier.kinds)
}

func TestMapError(t *testing.T) {
	status, _, meta, ok := MapError(fernsync.ErrAlreadySyncing)
	assert.True(t, ok)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_syncing", meta["reason"])

	status, _, meta, ok = MapError(providers.Transient(models.ProviderJira, "list", errors.New("timeout")))
	assert.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "transient", meta["reason"])

	_, _, _, ok = MapError(errors.New("boom"))
	assert.False(t, ok)
}
