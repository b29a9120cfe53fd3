package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/providers/jira"
)

const defaultSearchResults = 50

// JiraHandler exposes Jira issue operations
type JiraHandler struct {
	jira *jira.Adapter
}

func NewJiraHandler(adapter *jira.Adapter) *JiraHandler {
	return &JiraHandler{jira: adapter}
}

type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
}

type CommentRequest struct {
	Comment string `json:"comment" validate:"required"`
}

func (h *JiraHandler) RegisterRoutes(g *echo.Group) {
	j := g.Group("/integrations/jira")
	j.POST("/issues", h.Create)
	j.GET("/issues/:key", h.Get)
	j.PUT("/issues/:key", h.Update)
	j.POST("/issues/:key/transition", h.Transition)
	j.POST("/issues/:key/comment", h.Comment)
	j.GET("/search", h.Search)
	j.POST("/test", h.Test)
}

// Create handles POST /integrations/jira/issues
func (h *JiraHandler) Create(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[jira.CreateIssueRequest](c)
	if err != nil {
		return err
	}
	issue, err := h.jira.CreateIssue(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, issue)
}

// Get handles GET /integrations/jira/issues/:key
func (h *JiraHandler) Get(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	issue, err := h.jira.GetIssue(c.Request().Context(), tenantID, c.Param("key"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, issue)
}

// Update handles PUT /integrations/jira/issues/:key
func (h *JiraHandler) Update(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[jira.UpdateIssueRequest](c)
	if err != nil {
		return err
	}
	issue, err := h.jira.UpdateIssue(c.Request().Context(), tenantID, c.Param("key"), req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, issue)
}

// Transition handles POST /integrations/jira/issues/:key/transition
func (h *JiraHandler) Transition(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[TransitionRequest](c)
	if err != nil {
		return err
	}
	if err := h.jira.TransitionIssue(c.Request().Context(), tenantID, c.Param("key"), req.Status); err != nil {
		return err
	}
	return SuccessResponse(c, map[string]string{"key": c.Param("key"), "status": req.Status})
}

// Comment handles POST /integrations/jira/issues/:key/comment
func (h *JiraHandler) Comment(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[CommentRequest](c)
	if err != nil {
		return err
	}
	if err := h.jira.AddComment(c.Request().Context(), tenantID, c.Param("key"), req.Comment); err != nil {
		return err
	}
	return CreatedResponse(c, map[string]string{"key": c.Param("key")})
}

// Search handles GET /integrations/jira/search?jql=&max=
func (h *JiraHandler) Search(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	jql := c.QueryParam("jql")
	if jql == "" {
		jql = jira.SyncJQL
	}
	issues, err := h.jira.SearchIssues(c.Request().Context(), tenantID, jql, QueryInt(c, "max", defaultSearchResults))
	if err != nil {
		return err
	}
	return SuccessResponse(c, issues)
}

// Test handles POST /integrations/jira/test
func (h *JiraHandler) Test(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	result, err := h.jira.TestConnection(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}
