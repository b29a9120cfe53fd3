package handlers

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/providers/calendar"
	"github.com/Ramsey-B/fern/pkg/providers/gmail"
)

// GoogleHandler exposes Gmail and Google Calendar operations
type GoogleHandler struct {
	gmail    *gmail.Adapter
	calendar *calendar.Adapter
	now      func() time.Time
}

func NewGoogleHandler(gmailAdapter *gmail.Adapter, calendarAdapter *calendar.Adapter) *GoogleHandler {
	return &GoogleHandler{gmail: gmailAdapter, calendar: calendarAdapter, now: time.Now}
}

func (h *GoogleHandler) RegisterRoutes(g *echo.Group) {
	m := g.Group("/integrations/gmail")
	m.GET("/messages", h.ListMessages)
	m.POST("/send", h.Send)

	cal := g.Group("/integrations/calendar")
	cal.GET("/events", h.ListEvents)
	cal.GET("/events/:id", h.GetEvent)
	cal.POST("/events", h.CreateEvent)
	cal.PUT("/events/:id", h.UpdateEvent)
	cal.DELETE("/events/:id", h.DeleteEvent)
}

// ListMessages handles GET /integrations/gmail/messages?q=&max=
func (h *GoogleHandler) ListMessages(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	emails, err := h.gmail.ListEmails(c.Request().Context(), tenantID, c.QueryParam("q"), QueryInt(c, "max", gmail.SyncLimit))
	if err != nil {
		return err
	}
	return SuccessResponse(c, emails)
}

// Send handles POST /integrations/gmail/send
func (h *GoogleHandler) Send(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[gmail.SendEmailRequest](c)
	if err != nil {
		return err
	}
	id, err := h.gmail.SendEmail(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, map[string]string{"id": id})
}

// ListEvents handles GET /integrations/calendar/events?timeMin=&timeMax=&max=. The
// window defaults to the next 30 days.
func (h *GoogleHandler) ListEvents(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	timeMin := h.now().UTC()
	timeMax := timeMin.Add(30 * 24 * time.Hour)
	if raw := c.QueryParam("timeMin"); raw != "" {
		if timeMin, err = time.Parse(time.RFC3339, raw); err != nil {
			return BadRequest("timeMin must be RFC3339")
		}
	}
	if raw := c.QueryParam("timeMax"); raw != "" {
		if timeMax, err = time.Parse(time.RFC3339, raw); err != nil {
			return BadRequest("timeMax must be RFC3339")
		}
	}
	events, err := h.calendar.ListEvents(c.Request().Context(), tenantID, timeMin, timeMax, QueryInt(c, "max", calendar.SyncLimit))
	if err != nil {
		return err
	}
	return SuccessResponse(c, events)
}

// GetEvent handles GET /integrations/calendar/events/:id
func (h *GoogleHandler) GetEvent(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	event, err := h.calendar.GetEvent(c.Request().Context(), tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, event)
}

// CreateEvent handles POST /integrations/calendar/events
func (h *GoogleHandler) CreateEvent(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[calendar.CreateEventRequest](c)
	if err != nil {
		return err
	}
	event, err := h.calendar.CreateEvent(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, event)
}

// UpdateEvent handles PUT /integrations/calendar/events/:id
func (h *GoogleHandler) UpdateEvent(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[calendar.UpdateEventRequest](c)
	if err != nil {
		return err
	}
	event, err := h.calendar.UpdateEvent(c.Request().Context(), tenantID, c.Param("id"), req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, event)
}

// DeleteEvent handles DELETE /integrations/calendar/events/:id
func (h *GoogleHandler) DeleteEvent(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	if err := h.calendar.DeleteEvent(c.Request().Context(), tenantID, c.Param("id")); err != nil {
		return err
	}
	return NoContentResponse(c)
}
