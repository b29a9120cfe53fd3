package calendar

import (
	"context"
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
	calendarapi "google.golang.org/api/calendar/v3"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/providertest"
)

func newAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &providertest.Tokens{Current: &oauth2.Token{AccessToken: "old"}}
	config := providertest.GoogleConfig(models.ProviderCalendar)
	return New(providertest.Resolver(config), tokens, nil, 5*time.Second, providertest.Logger()).WithEndpoint(srv.URL + "/")
}

const eventJSON = `{
	"id": "ev1",
	"start": {"dateTime": "2024-06-03T08:00:00Z", "timeZone": "America/New_York"},
	"end": {"dateTime": "2024-06-03T09:00:00Z", "timeZone": "America/New_York"},
	"attendees": [{"email": "ann@acme.io"}],
	"hangoutLink": "https://meet.google.com/abc"
}`

func TestListEvents_QueryAndDefaults(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events"))
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.Equal(t, "100", q.Get("maxResults"))
		assert.NotEmpty(t, q.Get("timeMin"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[`+eventJSON+`]}`)
	})

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	events, err := a.ListEvents(context.Background(), uuid.New(), from, from.Add(SyncWindow), SyncLimit)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, DefaultSummary, e.Summary)
	assert.Equal(t, DefaultStatus, e.Status)
	assert.Equal(t, "https://meet.google.com/abc", e.MeetingLink)
	assert.Equal(t, []string{"ann@acme.io"}, e.Attendees)
	assert.Equal(t, "America/New_York", e.TimeZone)
	assert.Equal(t, "America/New_York", e.Start.Location().String())
	assert.Equal(t, 4, e.Start.Hour())
}

func TestToEvent_AllDay(t *testing.T) {
	event := toEvent(&calendarapi.Event{
		Id:      "x",
		Summary: "Offsite",
		Status:  "tentative",
		Start:   &calendarapi.EventDateTime{Date: "2024-06-03"},
		End:     &calendarapi.EventDateTime{Date: "2024-06-04"},
	})
	assert.True(t, event.AllDay)
	assert.Equal(t, 3, event.Start.Day())
	assert.Equal(t, "Offsite", event.Summary)
	assert.Equal(t, "tentative", event.Status)
	assert.Empty(t, event.Attendees)
}

func TestCreateEvent_SendsZoneAndNotifies(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "all", r.URL.Query().Get("sendUpdates"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		start, _ := body["start"].(map[string]any)
		assert.Equal(t, "America/New_York", start["timeZone"])
		assert.Equal(t, "2024-06-03T04:00:00-04:00", start["dateTime"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, eventJSON)
	})

	start := time.Date(2024, 6, 3, 4, 0, 0, 0, ny)
	event, err := a.CreateEvent(context.Background(), uuid.New(), CreateEventRequest{
		Summary: "Demo",
		Start:   start,
		End:     start.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, event.Start.Equal(start))
	assert.Equal(t, "America/New_York", event.TimeZone)
}

func TestCreateEvent_EndBeforeStart(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	now := time.Now()
	_, err := a.CreateEvent(context.Background(), uuid.New(), CreateEventRequest{Summary: "x", Start: now, End: now.Add(-time.Minute)})
	assert.ErrorIs(t, err, providers.ErrPermanent)
}

func TestUpdateEvent_KeepsZoneOnNewStart(t *testing.T) {
	var put map[string]any
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPut {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&put))
			assert.Equal(t, "none", r.URL.Query().Get("sendUpdates"))
		}
		_, _ = io.WriteString(w, eventJSON)
	})

	newStart := time.Date(2024, 6, 4, 12, 0, 0, 0, time.UTC)
	title := "Moved"
	notify := false
	_, err := a.UpdateEvent(context.Background(), uuid.New(), "ev1", UpdateEventRequest{Summary: &title, Start: &newStart, SendNotifications: &notify})
	require.NoError(t, err)

	require.NotNil(t, put)
	assert.Equal(t, "Moved", put["summary"])
	start, _ := put["start"].(map[string]any)
	assert.Equal(t, "America/New_York", start["timeZone"])
	assert.Equal(t, "2024-06-04T08:00:00-04:00", start["dateTime"])
}

func TestDeleteEvent_GoneIsPermanent(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		_, _ = io.WriteString(w, `{"error":{"code":410,"message":"Resource has been deleted"}}`)
	})
	err := a.DeleteEvent(context.Background(), uuid.New(), "ev1")
	assert.ErrorIs(t, err, providers.ErrPermanent)
}

func TestCreateResource_RequiresTimes(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := a.CreateResource(context.Background(), uuid.New(), providers.ResourceRequest{
		Title:  "Demo",
		Fields: map[string]any{models.FieldStart: "tomorrow"},
	})
	assert.ErrorIs(t, err, providers.ErrPermanent)
}

func TestParseWebhook(t *testing.T) {
	a := New(providertest.Resolver(nil), &providertest.Tokens{}, nil, time.Second, providertest.Logger())

	headers := http.Header{}
	headers.Set("X-Goog-Resource-ID", "res-1")
	headers.Set("X-Goog-Resource-State", "exists")
	headers.Set("X-Goog-Message-Number", "12")
	event, err := a.ParseWebhook(providers.WebhookRequest{Provider: models.ProviderCalendar, Headers: headers})
	require.NoError(t, err)
	assert.Equal(t, models.EventCalendarChanged, event.Type)
	assert.Equal(t, "res-1:12", event.ExternalID)

	headers.Set("X-Goog-Resource-State", "not_exists")
	_, err = a.ParseWebhook(providers.WebhookRequest{Headers: headers})
	assert.ErrorIs(t, err, providers.ErrUnrecognized)
}
