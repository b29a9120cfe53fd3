package linear

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/providertest"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

const issueNode = `{
	"id": "lin-1",
	"identifier": "ENG-12",
	"title": "Billing page slow",
	"description": null,
	"state": {"name": "In Review"},
	"priority": 2,
	"assignee": null,
	"team": {"id": "team-1"},
	"labels": {"nodes": [{"name": "perf"}]},
	"url": "https://linear.app/acme/issue/ENG-12",
	"createdAt": "2024-02-01T09:00:00.000Z",
	"updatedAt": "2024-02-02T09:00:00.000Z"
}`

func newAdapter(t *testing.T, handler func(t *testing.T, req gqlRequest) string) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lin_key", r.Header.Get("Authorization"))
		var req gqlRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, handler(t, req))
	}))
	t.Cleanup(srv.Close)
	config := providertest.Config(models.ProviderLinear,
		map[string]any{"teamId": "team-1"},
		map[string]any{"apiKey": "lin_key"})
	return New(providertest.Resolver(config), providertest.Client(), nil, 5*time.Second, srv.URL, providertest.Logger())
}

func TestPriority_RoundTrip(t *testing.T) {
	for p := PriorityNone; p <= PriorityLow; p++ {
		assert.Equal(t, p, StringToPriority(PriorityToString(p)))
	}
	assert.Equal(t, "medium", PriorityToString(9))
	assert.Equal(t, PriorityUrgent, StringToPriority("Highest"))
	assert.Equal(t, PriorityNone, StringToPriority("lowest"))
	assert.Equal(t, PriorityMedium, StringToPriority("whenever"))
}

func TestGetIssue_ParsesNullableFields(t *testing.T) {
	a := newAdapter(t, func(t *testing.T, req gqlRequest) string {
		assert.Equal(t, "lin-1", req.Variables["id"])
		return `{"data":{"issue":` + issueNode + `}}`
	})

	issue, err := a.GetIssue(context.Background(), uuid.New(), "lin-1")
	require.NoError(t, err)
	assert.Equal(t, "ENG-12", issue.Identifier)
	assert.Empty(t, issue.Description)
	assert.Empty(t, issue.Assignee)
	assert.Equal(t, "In Review", issue.State)
	assert.Equal(t, PriorityHigh, issue.Priority)
	assert.Equal(t, []string{"perf"}, issue.Labels)

	r := Resource(*issue)
	assert.Equal(t, "lin-1", r.ExternalID)
	assert.Equal(t, "ENG-12", r.Key)
	assert.Equal(t, "high", r.Priority)
	require.NotNil(t, r.UpdatedAt)
}

func TestGetIssue_MissingStateIsUnknown(t *testing.T) {
	a := newAdapter(t, func(t *testing.T, req gqlRequest) string {
		return `{"data":{"issue":{"id":"lin-2","title":"x"}}}`
	})
	issue, err := a.GetIssue(context.Background(), uuid.New(), "lin-2")
	require.NoError(t, err)
	assert.Equal(t, UnknownState, issue.State)
	assert.Equal(t, 0, issue.Priority)
}

func TestGetIssue_NullIsNotFound(t *testing.T) {
	a := newAdapter(t, func(t *testing.T, req gqlRequest) string {
		return `{"data":{"issue":null}}`
	})
	_, err := a.GetIssue(context.Background(), uuid.New(), "nope")
	assert.ErrorIs(t, err, providers.ErrNotFound)
}

func TestExecute_GraphQLErrorsArePermanent(t *testing.T) {
	a := newAdapter(t, func(t *testing.T, req gqlRequest) string {
		return `{"errors":[{"message":"Entity not found"},{"message":"bad id"}]}`
	})
	_, err := a.GetTeams(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrPermanent)
	assert.Contains(t, err.Error(), "Entity not found; bad id")
}

func TestCreateIssue_DefaultsTeamAndPriority(t *testing.T) {
	a := newAdapter(t, func(t *testing.T, req gqlRequest) string {
		input, _ := req.Variables["input"].(map[string]any)
		assert.Equal(t, "team-1", input["teamId"])
		assert.Equal(t, "Billing page slow", input["title"])
		assert.Equal(t, float64(PriorityMedium), input["priority"])
		assert.NotContains(t, input, "assigneeId")
		return `{"data":{"issueCreate":{"success":true,"issue":` + issueNode + `}}}`
	})

	issue, err := a.CreateIssue(context.Background(), uuid.New(), CreateIssueRequest{Title: "Billing page slow"})
	require.NoError(t, err)
	assert.Equal(t, "lin-1", issue.ID)
}

func TestCreateIssue_UnsuccessfulMutation(t *testing.T) {
	a := newAdapter(t, func(t *testing.T, req gqlRequest) string {
		return `{"data":{"issueCreate":{"success":false,"issue":null}}}`
	})
	_, err := a.CreateIssue(context.Background(), uuid.New(), CreateIssueRequest{Title: "x"})
	assert.ErrorIs(t, err, providers.ErrPermanent)
}

func TestUpdateIssue_SendsOnlyProvidedFields(t *testing.T) {
	a := newAdapter(t, func(t *testing.T, req gqlRequest) string {
		assert.Contains(t, req.Query, "issueUpdate")
		input, _ := req.Variables["input"].(map[string]any)
		assert.Equal(t, map[string]any{"stateId": "state-done"}, input)
		return `{"data":{"issueUpdate":{"success":true,"issue":` + issueNode + `}}}`
	})
	stateID := "state-done"
	_, err := a.UpdateIssue(context.Background(), uuid.New(), "lin-1", UpdateIssueRequest{StateID: &stateID})
	require.NoError(t, err)
}

func TestUpdateIssue_NothingToChangeReadsBack(t *testing.T) {
	a := newAdapter(t, func(t *testing.T, req gqlRequest) string {
		assert.NotContains(t, req.Query, "issueUpdate")
		return `{"data":{"issue":` + issueNode + `}}`
	})
	issue, err := a.UpdateIssue(context.Background(), uuid.New(), "lin-1", UpdateIssueRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ENG-12", issue.Identifier)
}

func TestListResources_UsesTeamWhenGiven(t *testing.T) {
	a := newAdapter(t, func(t *testing.T, req gqlRequest) string {
		assert.Equal(t, "team-9", req.Variables["teamId"])
		assert.Equal(t, float64(100), req.Variables["first"])
		return `{"data":{"team":{"issues":{"nodes":[` + issueNode + `]}}}}`
	})
	resources, err := a.ListResources(context.Background(), uuid.New(), providers.ListFilter{TeamID: "team-9"})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, models.ResourceIssue, resources[0].Kind)
}

func TestConnect_RequiresAPIKey(t *testing.T) {
	config := providertest.Config(models.ProviderLinear, nil, nil)
	a := New(providertest.Resolver(config), providertest.Client(), nil, time.Second, "http://127.0.0.1:1", providertest.Logger())
	_, err := a.GetTeams(context.Background(), uuid.New())
	assert.ErrorIs(t, err, providers.ErrNotConfigured)
}

func TestParseWebhook(t *testing.T) {
	a := New(providertest.Resolver(nil), providertest.Client(), nil, time.Second, "", providertest.Logger())

	event, err := a.ParseWebhook(providers.WebhookRequest{
		Provider: models.ProviderLinear,
		Body:     []byte(`{"action":"update","type":"Issue","webhookTimestamp":1700000000000,"data":{"id":"lin-1","identifier":"ENG-12","title":"Billing","state":{"name":"Done"}}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventIssueUpdated, event.Type)
	assert.Equal(t, "lin-1:update:1700000000000", event.ExternalID)
	assert.Equal(t, "Done", event.String(models.PayloadStatus))

	_, err = a.ParseWebhook(providers.WebhookRequest{Body: []byte(`{"action":"create","type":"Comment","data":{"id":"c1"}}`)})
	assert.True(t, errors.Is(err, providers.ErrUnrecognized))
}
