package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/providertest"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func newAdapter(t *testing.T, tokens *providertest.Tokens, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	config := providertest.GoogleConfig(models.ProviderGmail)
	return New(providertest.Resolver(config), tokens, nil, 5*time.Second, providertest.Logger()).WithEndpoint(srv.URL + "/")
}

func messageJSON(id string) string {
	msg := map[string]any{
		"id":           id,
		"threadId":     "t-" + id,
		"snippet":      "snip",
		"internalDate": "1700000000000",
		"labelIds":     []string{"INBOX"},
		"payload": map[string]any{
			"mimeType": "multipart/alternative",
			"headers": []map[string]string{
				{"name": "From", "value": "Ann <ann@acme.io>"},
				{"name": "To", "value": "sales@fern.io, ops@fern.io"},
			},
			"parts": []map[string]any{
				{"mimeType": "text/html", "body": map[string]any{"data": b64("<p>hi</p>")}},
				{"mimeType": "text/plain", "body": map[string]any{"data": b64("hi there")}},
			},
		},
	}
	data, _ := json.Marshal(msg)
	return string(data)
}

func TestListEmails_FetchesFullMessages(t *testing.T) {
	tokens := &providertest.Tokens{Current: &oauth2.Token{AccessToken: "old"}}
	a := newAdapter(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer old", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/users/me/messages"):
			assert.Equal(t, "newer_than:7d", r.URL.Query().Get("q"))
			assert.Equal(t, "50", r.URL.Query().Get("maxResults"))
			_, _ = io.WriteString(w, `{"messages":[{"id":"m1"},{"id":"gone"}]}`)
		case strings.HasSuffix(r.URL.Path, "/messages/m1"):
			assert.Equal(t, "full", r.URL.Query().Get("format"))
			_, _ = io.WriteString(w, messageJSON("m1"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Not Found"}}`)
		}
	})

	resources, err := a.ListResources(context.Background(), uuid.New(), providers.ListFilter{})
	require.NoError(t, err)
	require.Len(t, resources, 1)

	r := resources[0]
	assert.Equal(t, "m1", r.ExternalID)
	assert.Equal(t, DefaultSubject, r.Title)
	assert.Equal(t, "hi there", r.Description)
	assert.Equal(t, "Ann <ann@acme.io>", r.Field(models.FieldFrom))
	assert.Equal(t, string(models.DirectionInbound), r.Field(models.FieldDirection))
	assert.Equal(t, int64(1700000000), r.CreatedAt.Unix())
}

func TestExtractBody_SinglePart(t *testing.T) {
	email := toEmail(mustMessage(t, `{"id":"x","payload":{"mimeType":"text/html","body":{"data":"`+b64("<b>only</b>")+`"}}}`))
	assert.Equal(t, "<b>only</b>", email.Body)
}

func TestGetEmail_RefreshesOnceOn401(t *testing.T) {
	tokens := &providertest.Tokens{
		Current: &oauth2.Token{AccessToken: "old"},
		Next:    &oauth2.Token{AccessToken: "new"},
	}
	calls := 0
	a := newAdapter(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
			return
		}
		_, _ = io.WriteString(w, messageJSON("m1"))
	})

	email, err := a.GetEmail(context.Background(), uuid.New(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", email.ID)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tokens.Refreshes)
	assert.Equal(t, 1, tokens.Invalidated)
}

func TestGetEmail_SecondRejectionSurfaces(t *testing.T) {
	tokens := &providertest.Tokens{Current: &oauth2.Token{AccessToken: "old"}}
	a := newAdapter(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
	})

	_, err := a.GetEmail(context.Background(), uuid.New(), "m1")
	assert.ErrorIs(t, err, providers.ErrAuthExpired)
	assert.Equal(t, 1, tokens.Refreshes)
}

func TestGetEmail_NotFound(t *testing.T) {
	tokens := &providertest.Tokens{Current: &oauth2.Token{AccessToken: "old"}}
	a := newAdapter(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Not Found"}}`)
	})
	_, err := a.GetResource(context.Background(), uuid.New(), "nope")
	assert.ErrorIs(t, err, providers.ErrNotFound)
	assert.Equal(t, 0, tokens.Refreshes)
}

func TestSendEmail_BuildsRawMessage(t *testing.T) {
	tokens := &providertest.Tokens{Current: &oauth2.Token{AccessToken: "old"}}
	a := newAdapter(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body struct {
			Raw string `json:"raw"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw, err := base64.URLEncoding.DecodeString(body.Raw)
		assert.NoError(t, err)
		assert.Contains(t, string(raw), "To: <bob@acme.io>\r\n")
		assert.Contains(t, string(raw), "Content-Type: text/html; charset=\"UTF-8\"")
		assert.True(t, strings.HasSuffix(string(raw), "\r\n\r\n<p>Hello</p>"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"sent-1"}`)
	})

	id, err := a.SendEmail(context.Background(), uuid.New(), SendEmailRequest{To: "bob@acme.io", Subject: "Quote", Body: "<p>Hello</p>", IsHTML: true})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)
}

func TestSendEmail_InvalidRecipient(t *testing.T) {
	a := New(providertest.Resolver(providertest.GoogleConfig(models.ProviderGmail)), &providertest.Tokens{}, nil, time.Second, providertest.Logger())
	_, err := a.SendEmail(context.Background(), uuid.New(), SendEmailRequest{To: "not an address"})
	assert.ErrorIs(t, err, providers.ErrPermanent)
}

func TestSession_RequiresConnectedAccount(t *testing.T) {
	config := providertest.Config(models.ProviderGmail, nil, nil)
	a := New(providertest.Resolver(config), &providertest.Tokens{}, nil, time.Second, providertest.Logger())
	_, err := a.GetEmail(context.Background(), uuid.New(), "m1")
	assert.ErrorIs(t, err, providers.ErrNotConfigured)
}

func TestParseWebhook(t *testing.T) {
	a := New(providertest.Resolver(nil), &providertest.Tokens{}, nil, time.Second, providertest.Logger())
	data := base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"sales@fern.io","historyId":98765}`))

	event, err := a.ParseWebhook(providers.WebhookRequest{
		Provider: models.ProviderGmail,
		Body:     []byte(`{"message":{"data":"` + data + `","messageId":"p1"},"subscription":"projects/x/subscriptions/y"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventMailboxChanged, event.Type)
	assert.Equal(t, "98765", event.ExternalID)
	assert.Equal(t, "sales@fern.io", event.String(models.PayloadEmailAddress))

	_, err = a.ParseWebhook(providers.WebhookRequest{Body: []byte(`{"subscription":"y"}`)})
	assert.ErrorIs(t, err, providers.ErrUnrecognized)
}

func mustMessage(t *testing.T, raw string) *gmailapi.Message {
	t.Helper()
	var msg gmailapi.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return &msg
}
