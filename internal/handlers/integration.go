package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/models"
)

// IntegrationHandler manages per-tenant integration configs
type IntegrationHandler struct {
	store  *credentials.Store
	logger ectologger.Logger
}

func NewIntegrationHandler(store *credentials.Store, logger ectologger.Logger) *IntegrationHandler {
	return &IntegrationHandler{store: store, logger: logger}
}

// SaveConfigRequest replaces a provider's config and credentials
type SaveConfigRequest struct {
	Config      map[string]any `json:"config"`
	Credentials map[string]any `json:"credentials" validate:"required"`
	Enabled     *bool          `json:"enabled"`
}

type ChatIDsRequest struct {
	ChatIDs []any `json:"chatIds" validate:"required"`
}

// RegisterRoutes registers the integration config routes
func (h *IntegrationHandler) RegisterRoutes(g *echo.Group) {
	integrations := g.Group("/integrations")
	integrations.GET("/status", h.Status)
	integrations.GET("/status/:provider", h.StatusOf)
	integrations.POST("/config/:provider", h.SaveConfig)
	integrations.POST("/telegram/chat-ids", h.SaveChatIDs)
	integrations.POST("/:provider/enable", h.Enable)
	integrations.POST("/:provider/disable", h.Disable)
	integrations.DELETE("/:provider", h.Delete)
}

// Status handles GET /integrations/status
func (h *IntegrationHandler) Status(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	statuses, err := h.store.Status(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, statuses)
}

// StatusOf handles GET /integrations/status/:provider
func (h *IntegrationHandler) StatusOf(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	provider, err := ParseProvider(c)
	if err != nil {
		return err
	}
	status, err := h.store.StatusOf(c.Request().Context(), tenantID, provider)
	if err != nil {
		return err
	}
	return SuccessResponse(c, status)
}

// SaveConfig handles POST /integrations/config/:provider. A new config is enabled
// unless the request says otherwise.
func (h *IntegrationHandler) SaveConfig(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	provider, err := ParseProvider(c)
	if err != nil {
		return err
	}
	req, err := Bind[SaveConfigRequest](c)
	if err != nil {
		return err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	config, err := h.store.Save(c.Request().Context(), tenantID, provider, req.Config, req.Credentials, enabled)
	if err != nil {
		return err
	}
	return SuccessResponse(c, config.Status(provider))
}

// Enable handles POST /integrations/:provider/enable
func (h *IntegrationHandler) Enable(c echo.Context) error {
	return h.toggle(c, true)
}

// Disable handles POST /integrations/:provider/disable
func (h *IntegrationHandler) Disable(c echo.Context) error {
	return h.toggle(c, false)
}

func (h *IntegrationHandler) toggle(c echo.Context, enabled bool) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	provider, err := ParseProvider(c)
	if err != nil {
		return err
	}

	var config *models.IntegrationConfig
	if enabled {
		config, err = h.store.Enable(c.Request().Context(), tenantID, provider)
	} else {
		config, err = h.store.Disable(c.Request().Context(), tenantID, provider)
	}
	if err != nil {
		return err
	}
	return SuccessResponse(c, config.Status(provider))
}

// Delete handles DELETE /integrations/:provider
func (h *IntegrationHandler) Delete(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	provider, err := ParseProvider(c)
	if err != nil {
		return err
	}
	if err := h.store.Delete(c.Request().Context(), tenantID, provider); err != nil {
		return err
	}
	return NoContentResponse(c)
}

// SaveChatIDs handles POST /integrations/telegram/chat-ids
func (h *IntegrationHandler) SaveChatIDs(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[ChatIDsRequest](c)
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(req.ChatIDs))
	for _, raw := range req.ChatIDs {
		id, ok := credentials.ParseChatID(raw)
		if !ok {
			return BadRequest("chatIds must be integers")
		}
		ids = append(ids, id)
	}

	config, err := h.store.SaveTelegramChatIDs(c.Request().Context(), tenantID, ids)
	if err != nil {
		return err
	}
	h.logger.WithContext(c.Request().Context()).WithField("count", len(ids)).Info("Saved telegram notification chats")
	return SuccessResponse(c, config.Status(models.ProviderTelegram))
}
