// Package calendar adapts the Google Calendar API for the tenant's primary calendar.
package calendar

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	calendarapi "google.golang.org/api/calendar/v3"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/gsuite"
)

const (
	primary         = "primary"
	DefaultSummary  = "(No title)"
	DefaultStatus   = "confirmed"
	SyncWindow      = 90 * 24 * time.Hour
	SyncLimit       = 100
	defaultWindow   = 30 * 24 * time.Hour
	defaultMaxEvent = 50
)

type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TimeZone    string    `json:"timeZone,omitempty"`
	AllDay      bool      `json:"allDay"`
	Attendees   []string  `json:"attendees"`
	MeetingLink string    `json:"meetingLink,omitempty"`
	Status      string    `json:"status"`
}

type CreateEventRequest struct {
	Summary           string    `json:"summary" validate:"required"`
	Description       string    `json:"description"`
	Location          string    `json:"location"`
	Start             time.Time `json:"start" validate:"required"`
	End               time.Time `json:"end" validate:"required,gtfield=Start"`
	TimeZone          string    `json:"timeZone"` // IANA name, defaults to the zone of Start
	Attendees         []string  `json:"attendees"`
	SendNotifications *bool     `json:"sendNotifications"`
}

// UpdateEventRequest leaves nil fields unchanged
type UpdateEventRequest struct {
	Summary           *string    `json:"summary"`
	Description       *string    `json:"description"`
	Location          *string    `json:"location"`
	Start             *time.Time `json:"start"`
	End               *time.Time `json:"end"`
	TimeZone          *string    `json:"timeZone"`
	Attendees         []string   `json:"attendees"`
	SendNotifications *bool      `json:"sendNotifications"`
}

type Adapter struct {
	session *gsuite.Session
	logger  ectologger.Logger
}

func New(configs providers.ConfigResolver, tokens gsuite.Tokens, limiter providers.Limiter, timeout time.Duration, logger ectologger.Logger) *Adapter {
	return &Adapter{
		session: gsuite.NewSession(models.ProviderCalendar, configs, tokens, limiter, timeout, logger),
		logger:  logger,
	}
}

// WithEndpoint points the adapter at another Calendar API base URL
func (a *Adapter) WithEndpoint(endpoint string) *Adapter {
	a.session.WithEndpoint(endpoint)
	return a
}

func (a *Adapter) Provider() models.Provider { return models.ProviderCalendar }

func (a *Adapter) service(ctx context.Context, client *http.Client) (*calendarapi.Service, error) {
	return calendarapi.NewService(ctx, a.session.Options(client)...)
}

// ListEvents expands recurring events into instances, ordered by start time
func (a *Adapter) ListEvents(ctx context.Context, tenantID uuid.UUID, timeMin, timeMax time.Time, max int) ([]Event, error) {
	if max <= 0 {
		max = defaultMaxEvent
	}
	var events []Event
	err := a.session.Do(ctx, tenantID, "list_events", func(ctx context.Context, client *http.Client) error {
		svc, err := a.service(ctx, client)
		if err != nil {
			return err
		}
		resp, err := svc.Events.List(primary).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			MaxResults(int64(max)).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		events = ectolinq.Map(resp.Items, toEvent)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (a *Adapter) GetEvent(ctx context.Context, tenantID uuid.UUID, id string) (*Event, error) {
	var event Event
	err := a.session.Do(ctx, tenantID, "get_event", func(ctx context.Context, client *http.Client) error {
		svc, err := a.service(ctx, client)
		if err != nil {
			return err
		}
		raw, err := svc.Events.Get(primary, id).Context(ctx).Do()
		if err != nil {
			return err
		}
		event = toEvent(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// CreateEvent inserts an event. Attendees are notified unless SendNotifications is false.
func (a *Adapter) CreateEvent(ctx context.Context, tenantID uuid.UUID, req CreateEventRequest) (*Event, error) {
	if req.End.Before(req.Start) {
		return nil, providers.Permanent(models.ProviderCalendar, "create_event", "end must not be before start")
	}
	tz := req.TimeZone
	if tz == "" {
		tz = zoneName(req.Start)
	}
	body := &calendarapi.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Start:       eventTime(req.Start, tz),
		End:         eventTime(req.End, tz),
		Attendees:   attendees(req.Attendees),
	}

	var event Event
	err := a.session.Do(ctx, tenantID, "create_event", func(ctx context.Context, client *http.Client) error {
		svc, err := a.service(ctx, client)
		if err != nil {
			return err
		}
		created, err := svc.Events.Insert(primary, body).
			SendUpdates(sendUpdates(req.SendNotifications)).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		event = toEvent(created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// UpdateEvent reads the event, applies the given fields and writes it back. A new start or
// end keeps the event's zone unless another one is given.
func (a *Adapter) UpdateEvent(ctx context.Context, tenantID uuid.UUID, id string, req UpdateEventRequest) (*Event, error) {
	var event Event
	err := a.session.Do(ctx, tenantID, "update_event", func(ctx context.Context, client *http.Client) error {
		svc, err := a.service(ctx, client)
		if err != nil {
			return err
		}
		current, err := svc.Events.Get(primary, id).Context(ctx).Do()
		if err != nil {
			return err
		}

		if req.Summary != nil {
			current.Summary = *req.Summary
		}
		if req.Description != nil {
			current.Description = *req.Description
		}
		if req.Location != nil {
			current.Location = *req.Location
		}
		tz := ""
		if current.Start != nil {
			tz = current.Start.TimeZone
		}
		if req.TimeZone != nil {
			tz = *req.TimeZone
		}
		if req.Start != nil {
			current.Start = eventTime(*req.Start, ectolinq.Ternary(tz != "", tz, zoneName(*req.Start)))
		} else if req.TimeZone != nil && current.Start != nil {
			current.Start.TimeZone = tz
		}
		if req.End != nil {
			current.End = eventTime(*req.End, ectolinq.Ternary(tz != "", tz, zoneName(*req.End)))
		} else if req.TimeZone != nil && current.End != nil {
			current.End.TimeZone = tz
		}
		if len(req.Attendees) > 0 {
			current.Attendees = attendees(req.Attendees)
		}

		updated, err := svc.Events.Update(primary, id, current).
			SendUpdates(sendUpdates(req.SendNotifications)).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		event = toEvent(updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (a *Adapter) DeleteEvent(ctx context.Context, tenantID uuid.UUID, id string) error {
	return a.session.Do(ctx, tenantID, "delete_event", func(ctx context.Context, client *http.Client) error {
		svc, err := a.service(ctx, client)
		if err != nil {
			return err
		}
		return svc.Events.Delete(primary, id).Context(ctx).Do()
	})
}

func sendUpdates(notify *bool) string {
	if notify != nil && !*notify {
		return "none"
	}
	return "all"
}

// zoneName is the IANA name of t's location, or empty for fixed offsets and Local
func zoneName(t time.Time) string {
	name := t.Location().String()
	if name == "Local" {
		return ""
	}
	return name
}

func eventTime(t time.Time, tz string) *calendarapi.EventDateTime {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			t = t.In(loc)
		}
	}
	return &calendarapi.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: tz}
}

func attendees(emails []string) []*calendarapi.EventAttendee {
	if len(emails) == 0 {
		return nil
	}
	return ectolinq.Map(emails, func(email string) *calendarapi.EventAttendee {
		return &calendarapi.EventAttendee{Email: email}
	})
}

// parseEventTime reads a timed or all-day boundary, placing it in the event's zone
func parseEventTime(dt *calendarapi.EventDateTime) (time.Time, string, bool) {
	if dt == nil {
		return time.Time{}, "", false
	}
	loc := time.UTC
	if dt.TimeZone != "" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, dt.TimeZone, false
		}
		if dt.TimeZone != "" {
			t = t.In(loc)
		}
		return t, dt.TimeZone, false
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(time.DateOnly, dt.Date, loc)
		if err != nil {
			return time.Time{}, dt.TimeZone, true
		}
		return t, dt.TimeZone, true
	}
	return time.Time{}, dt.TimeZone, false
}

func toEvent(e *calendarapi.Event) Event {
	start, tz, allDay := parseEventTime(e.Start)
	end, _, _ := parseEventTime(e.End)
	event := Event{
		ID:          e.Id,
		Summary:     ectolinq.Ternary(e.Summary != "", e.Summary, DefaultSummary),
		Description: e.Description,
		Location:    e.Location,
		Start:       start,
		End:         end,
		TimeZone:    tz,
		AllDay:      allDay,
		MeetingLink: e.HangoutLink,
		Status:      ectolinq.Ternary(e.Status != "", e.Status, DefaultStatus),
		Attendees:   []string{},
	}
	for _, att := range e.Attendees {
		if att != nil && att.Email != "" {
			event.Attendees = append(event.Attendees, att.Email)
		}
	}
	return event
}

// Resource converts an event to the canonical resource
func Resource(event Event) models.ExternalResource {
	start := event.Start
	fields := map[string]any{
		models.FieldStart:     event.Start,
		models.FieldEnd:       event.End,
		models.FieldAttendees: event.Attendees,
	}
	if event.TimeZone != "" {
		fields[models.FieldTimeZone] = event.TimeZone
	}
	if event.Location != "" {
		fields[models.FieldLocation] = event.Location
	}
	if event.MeetingLink != "" {
		fields[models.FieldMeetingLink] = event.MeetingLink
	}
	return models.ExternalResource{
		Kind:        models.ResourceEvent,
		Provider:    models.ProviderCalendar,
		ExternalID:  event.ID,
		Title:       event.Summary,
		Description: event.Description,
		Status:      event.Status,
		URL:         event.MeetingLink,
		CreatedAt:   &start,
		Fields:      fields,
	}
}

// ListResources lists events in [Since, Until], defaulting to the next thirty days
func (a *Adapter) ListResources(ctx context.Context, tenantID uuid.UUID, filter providers.ListFilter) ([]models.ExternalResource, error) {
	from := time.Now().UTC()
	if filter.Since != nil {
		from = *filter.Since
	}
	until := from.Add(defaultWindow)
	if filter.Until != nil {
		until = *filter.Until
	}
	events, err := a.ListEvents(ctx, tenantID, from, until, filter.Limit)
	if err != nil {
		return nil, err
	}
	return ectolinq.Map(events, Resource), nil
}

func (a *Adapter) GetResource(ctx context.Context, tenantID uuid.UUID, externalID string) (*models.ExternalResource, error) {
	event, err := a.GetEvent(ctx, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	r := Resource(*event)
	return &r, nil
}

func fieldTime(req providers.ResourceRequest, key string) (*time.Time, error) {
	raw := req.Field(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, providers.Permanent(models.ProviderCalendar, "parse_request", key+" must be an RFC 3339 timestamp")
	}
	return &t, nil
}

func fieldAttendees(req providers.ResourceRequest) []string {
	switch v := req.Fields[models.FieldAttendees].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// CreateResource creates an event from fields start, end, time_zone, location and attendees
func (a *Adapter) CreateResource(ctx context.Context, tenantID uuid.UUID, req providers.ResourceRequest) (*models.ExternalResource, error) {
	start, err := fieldTime(req, models.FieldStart)
	if err != nil {
		return nil, err
	}
	end, err := fieldTime(req, models.FieldEnd)
	if err != nil {
		return nil, err
	}
	if start == nil || end == nil {
		return nil, providers.Permanent(models.ProviderCalendar, "create_event", "start and end are required")
	}
	event, err := a.CreateEvent(ctx, tenantID, CreateEventRequest{
		Summary:     req.Title,
		Description: req.Description,
		Location:    req.Field(models.FieldLocation),
		Start:       *start,
		End:         *end,
		TimeZone:    req.Field(models.FieldTimeZone),
		Attendees:   fieldAttendees(req),
	})
	if err != nil {
		return nil, err
	}
	r := Resource(*event)
	return &r, nil
}

func (a *Adapter) UpdateResource(ctx context.Context, tenantID uuid.UUID, externalID string, req providers.ResourceRequest) (*models.ExternalResource, error) {
	start, err := fieldTime(req, models.FieldStart)
	if err != nil {
		return nil, err
	}
	end, err := fieldTime(req, models.FieldEnd)
	if err != nil {
		return nil, err
	}
	update := UpdateEventRequest{Start: start, End: end, Attendees: fieldAttendees(req)}
	if req.Title != "" {
		update.Summary = &req.Title
	}
	if req.Description != "" {
		update.Description = &req.Description
	}
	if loc := req.Field(models.FieldLocation); loc != "" {
		update.Location = &loc
	}
	if tz := req.Field(models.FieldTimeZone); tz != "" {
		update.TimeZone = &tz
	}
	event, err := a.UpdateEvent(ctx, tenantID, externalID, update)
	if err != nil {
		return nil, err
	}
	r := Resource(*event)
	return &r, nil
}

var _ providers.Adapter = (*Adapter)(nil)
