package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/providers/linear"
)

const defaultLinearPage = 50

type LinearHandler struct {
	linear *linear.Adapter
}

func NewLinearHandler(adapter *linear.Adapter) *LinearHandler {
	return &LinearHandler{linear: adapter}
}

func (h *LinearHandler) RegisterRoutes(g *echo.Group) {
	l := g.Group("/integrations/linear")
	l.GET("/issues", h.List)
	l.GET("/issues/:id", h.Get)
	l.POST("/issues", h.Create)
	l.PUT("/issues/:id", h.Update)
	l.GET("/teams", h.Teams)
	l.GET("/teams/:teamId/states", h.States)
}

// List handles GET /integrations/linear/issues?teamId=&first=
func (h *LinearHandler) List(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	first := QueryInt(c, "first", defaultLinearPage)

	var issues []linear.Issue
	if teamID := c.QueryParam("teamId"); teamID != "" {
		issues, err = h.linear.GetIssuesByTeam(ctx, tenantID, teamID, first)
	} else {
		issues, err = h.linear.GetIssues(ctx, tenantID, first)
	}
	if err != nil {
		return err
	}
	return SuccessResponse(c, issues)
}

// Get handles GET /integrations/linear/issues/:id
func (h *LinearHandler) Get(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	issue, err := h.linear.GetIssue(c.Request().Context(), tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, issue)
}

// Create handles POST /integrations/linear/issues
func (h *LinearHandler) Create(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[linear.CreateIssueRequest](c)
	if err != nil {
		return err
	}
	issue, err := h.linear.CreateIssue(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, issue)
}

// Update handles PUT /integrations/linear/issues/:id
func (h *LinearHandler) Update(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[linear.UpdateIssueRequest](c)
	if err != nil {
		return err
	}
	issue, err := h.linear.UpdateIssue(c.Request().Context(), tenantID, c.Param("id"), req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, issue)
}

// Teams handles GET /integrations/linear/teams
func (h *LinearHandler) Teams(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	teams, err := h.linear.GetTeams(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, teams)
}

// States handles GET /integrations/linear/teams/:teamId/states
func (h *LinearHandler) States(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	states, err := h.linear.GetWorkflowStates(c.Request().Context(), tenantID, c.Param("teamId"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, states)
}
