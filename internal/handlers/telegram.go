package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/providers/telegram"
)

const testMessage = "✅ <b>Test notification</b>\n\nTelegram notifications are connected."

// Notifier sends a message to every configured chat of a tenant
type Notifier interface {
	Notify(ctx context.Context, tenantID uuid.UUID, kind, text string) bool
}

type TelegramHandler struct {
	telegram       *telegram.Adapter
	notifier       Notifier
	webhookBaseURL string
}

// NewTelegramHandler builds the handler. webhookBaseURL is the public origin Telegram
// posts updates to.
func NewTelegramHandler(adapter *telegram.Adapter, notifier Notifier, webhookBaseURL string) *TelegramHandler {
	return &TelegramHandler{
		telegram:       adapter,
		notifier:       notifier,
		webhookBaseURL: strings.TrimRight(webhookBaseURL, "/"),
	}
}

type SetWebhookRequest struct {
	URL string `json:"url" validate:"omitempty,url"`
}

func (h *TelegramHandler) RegisterRoutes(g *echo.Group) {
	t := g.Group("/integrations/telegram")
	t.POST("/send", h.Send)
	t.GET("/updates", h.Updates)
	t.POST("/webhook", h.SetWebhook)
	t.DELETE("/webhook", h.DeleteWebhook)
	t.GET("/bot-info", h.BotInfo)
	t.POST("/test", h.Test)
}

// Send handles POST /integrations/telegram/send
func (h *TelegramHandler) Send(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[telegram.SendMessageRequest](c)
	if err != nil {
		return err
	}
	msg, err := h.telegram.SendMessage(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, msg)
}

// Updates handles GET /integrations/telegram/updates?offset=&limit=
func (h *TelegramHandler) Updates(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	var offset *int64
	if raw := c.QueryParam("offset"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return BadRequest("offset must be an integer")
		}
		offset = &v
	}
	updates, err := h.telegram.GetUpdates(c.Request().Context(), tenantID, offset, QueryInt(c, "limit", 100))
	if err != nil {
		return err
	}
	return SuccessResponse(c, updates)
}

// SetWebhook handles POST /integrations/telegram/webhook. Without a url in the body
// the tenant's hub webhook endpoint is registered.
func (h *TelegramHandler) SetWebhook(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[SetWebhookRequest](c)
	if err != nil {
		return err
	}
	url := req.URL
	if url == "" {
		if h.webhookBaseURL == "" {
			return BadRequest("url is required when no public webhook base url is configured")
		}
		url = h.webhookBaseURL + "/api/v1/webhooks/telegram/" + tenantID.String()
	}
	if err := h.telegram.SetWebhook(c.Request().Context(), tenantID, url); err != nil {
		return err
	}
	return SuccessResponse(c, map[string]string{"url": url})
}

// DeleteWebhook handles DELETE /integrations/telegram/webhook
func (h *TelegramHandler) DeleteWebhook(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	if err := h.telegram.DeleteWebhook(c.Request().Context(), tenantID); err != nil {
		return err
	}
	return NoContentResponse(c)
}

// BotInfo handles GET /integrations/telegram/bot-info
func (h *TelegramHandler) BotInfo(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	info, err := h.telegram.GetMe(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, info)
}

// Test handles POST /integrations/telegram/test
func (h *TelegramHandler) Test(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	info, err := h.telegram.GetMe(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	sent := h.notifier.Notify(c.Request().Context(), tenantID, "test", testMessage)
	return SuccessResponse(c, map[string]any{"bot": info, "sent": sent})
}
