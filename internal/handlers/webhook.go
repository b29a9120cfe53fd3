package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/telephony"
	"github.com/Ramsey-B/fern/pkg/webhooks"
)

// TwilioAck is the empty TwiML document Twilio expects back
const TwilioAck = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

const maxWebhookBody = 1 << 20

// WebhookReceiver handles one raw delivery
type WebhookReceiver interface {
	Receive(ctx context.Context, req providers.WebhookRequest) webhooks.Outcome
}

// WebhookHandler accepts provider callbacks. It always answers 200 so providers do
// not retry deliveries the hub has already decided about.
type WebhookHandler struct {
	receiver WebhookReceiver
	logger   ectologger.Logger
}

func NewWebhookHandler(receiver WebhookReceiver, logger ectologger.Logger) *WebhookHandler {
	return &WebhookHandler{receiver: receiver, logger: logger}
}

type WebhookResponse struct {
	Status string `json:"status"`
}

// RegisterRoutes registers the unauthenticated webhook routes
func (h *WebhookHandler) RegisterRoutes(g *echo.Group) {
	hooks := g.Group("/webhooks")
	hooks.POST("/telephony/:vendor/:tenantId", h.Telephony)
	hooks.POST("/:provider/:tenantId", h.Provider)
}

// Provider handles POST /webhooks/:provider/:tenantId
func (h *WebhookHandler) Provider(c echo.Context) error {
	provider, err := models.ParseProvider(c.Param("provider"))
	if err != nil {
		h.logger.WithContext(c.Request().Context()).WithField("provider", c.Param("provider")).Warn("Webhook for unknown provider")
		return c.JSON(http.StatusOK, WebhookResponse{Status: string(webhooks.OutcomeUnknownProvider)})
	}
	variant := ""
	if provider == models.ProviderTelephony {
		variant = strings.ToLower(c.QueryParam("vendor"))
	}
	return h.receive(c, provider, variant)
}

// Telephony handles POST /webhooks/telephony/:vendor/:tenantId
func (h *WebhookHandler) Telephony(c echo.Context) error {
	return h.receive(c, models.ProviderTelephony, strings.ToLower(c.Param("vendor")))
}

func (h *WebhookHandler) receive(c echo.Context, provider models.Provider, variant string) error {
	ctx := c.Request().Context()
	log := h.logger.WithContext(ctx).WithField("provider", provider)

	outcome := webhooks.OutcomeUnrecognized
	tenantID, err := uuid.Parse(c.Param("tenantId"))
	if err != nil {
		log.WithField("tenant_id", c.Param("tenantId")).Warn("Webhook with invalid tenant id")
		return h.ack(c, provider, variant, outcome)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		log.WithError(err).Warn("Failed to read webhook body")
		return h.ack(c, provider, variant, outcome)
	}

	outcome = h.receiver.Receive(ctx, providers.WebhookRequest{
		Provider:   provider,
		Variant:    variant,
		TenantID:   tenantID,
		Body:       body,
		Headers:    c.Request().Header.Clone(),
		ReceivedAt: time.Now().UTC(),
	})
	return h.ack(c, provider, variant, outcome)
}

func (h *WebhookHandler) ack(c echo.Context, provider models.Provider, variant string, outcome webhooks.Outcome) error {
	if provider == models.ProviderTelephony && (variant == "" || variant == telephony.VendorTwilio) {
		return c.Blob(http.StatusOK, echo.MIMEApplicationXML, []byte(TwilioAck))
	}
	return c.JSON(http.StatusOK, WebhookResponse{Status: string(outcome)})
}
