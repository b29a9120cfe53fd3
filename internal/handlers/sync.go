package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	fernsync "github.com/Ramsey-B/fern/pkg/sync"
)

// SyncHandler runs on-demand syncs. A sync that is already running for the tenant
// and provider surfaces as a 409 through MapError.
type SyncHandler struct {
	orchestrator *fernsync.Orchestrator
}

func NewSyncHandler(orchestrator *fernsync.Orchestrator) *SyncHandler {
	return &SyncHandler{orchestrator: orchestrator}
}

func (h *SyncHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/issues/sync/all", h.SyncIssues)
	g.POST("/issues/sync/:provider", h.SyncIssueProvider)
	g.GET("/issues/sync/status", h.Status)
	g.POST("/integrations/:provider/sync", h.SyncProvider)
}

// SyncIssueProvider handles POST /issues/sync/jira and /issues/sync/linear
func (h *SyncHandler) SyncIssueProvider(c echo.Context) error {
	provider, err := ParseProvider(c)
	if err != nil {
		return err
	}
	if provider != models.ProviderJira && provider != models.ProviderLinear {
		return BadRequest("issue sync supports jira and linear")
	}
	return h.sync(c, provider)
}

// SyncIssues handles POST /issues/sync/all
func (h *SyncHandler) SyncIssues(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	result := h.orchestrator.SyncAll(c.Request().Context(), tenantID, models.ProviderJira, models.ProviderLinear)
	return SuccessResponse(c, result)
}

// SyncProvider handles POST /integrations/:provider/sync
func (h *SyncHandler) SyncProvider(c echo.Context) error {
	provider, err := ParseProvider(c)
	if err != nil {
		return err
	}
	return h.sync(c, provider)
}

// Status handles GET /issues/sync/status
func (h *SyncHandler) Status(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	status, err := h.orchestrator.Status(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, status)
}

func (h *SyncHandler) sync(c echo.Context, provider models.Provider) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	result, err := h.orchestrator.Sync(c.Request().Context(), tenantID, provider)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}
