// Package linear adapts the Linear GraphQL API to the provider interface.
package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

const (
	DefaultURL   = "https://api.linear.app/graphql"
	UnknownState = "Unknown"
)

const issueFields = `
	id
	identifier
	title
	description
	state { name }
	priority
	assignee { name }
	team { id }
	labels { nodes { name } }
	url
	createdAt
	updatedAt`

// Issue is the flattened Linear issue
type Issue struct {
	ID          string   `json:"id"`
	Identifier  string   `json:"identifier"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	State       string   `json:"state"`
	Priority    int      `json:"priority"`
	Assignee    string   `json:"assignee,omitempty"`
	TeamID      string   `json:"teamId,omitempty"`
	Labels      []string `json:"labels"`
	URL         string   `json:"url"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

type CreateIssueRequest struct {
	TeamID      string   `json:"teamId"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Priority    *int     `json:"priority" validate:"omitempty,min=0,max=4"`
	LabelIDs    []string `json:"labelIds"`
	AssigneeID  string   `json:"assigneeId"`
}

// UpdateIssueRequest leaves nil fields unchanged
type UpdateIssueRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *int    `json:"priority" validate:"omitempty,min=0,max=4"`
	StateID     *string `json:"stateId"`
}

type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key"`
}

type WorkflowState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type issueDTO struct {
	ID          string  `json:"id"`
	Identifier  string  `json:"identifier"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	State       *struct {
		Name string `json:"name"`
	} `json:"state"`
	Priority *float64 `json:"priority"`
	Assignee *struct {
		Name string `json:"name"`
	} `json:"assignee"`
	Team *struct {
		ID string `json:"id"`
	} `json:"team"`
	Labels *struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	URL       string `json:"url"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func (d *issueDTO) toIssue() Issue {
	issue := Issue{
		ID:         d.ID,
		Identifier: d.Identifier,
		Title:      d.Title,
		State:      UnknownState,
		URL:        d.URL,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		Labels:     []string{},
	}
	if d.Description != nil {
		issue.Description = *d.Description
	}
	if d.State != nil && d.State.Name != "" {
		issue.State = d.State.Name
	}
	if d.Priority != nil {
		issue.Priority = int(*d.Priority)
	}
	if d.Assignee != nil {
		issue.Assignee = d.Assignee.Name
	}
	if d.Team != nil {
		issue.TeamID = d.Team.ID
	}
	if d.Labels != nil {
		for _, l := range d.Labels.Nodes {
			issue.Labels = append(issue.Labels, l.Name)
		}
	}
	return issue
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type connection struct {
	apiKey string
	teamID string
}

// Adapter talks to Linear's single GraphQL endpoint with a personal API key
type Adapter struct {
	configs providers.ConfigResolver
	client  *resty.Client
	caller  *providers.Caller
	url     string
	logger  ectologger.Logger
}

// New creates the adapter. An empty url uses DefaultURL.
func New(configs providers.ConfigResolver, client *resty.Client, limiter providers.Limiter, timeout time.Duration, url string, logger ectologger.Logger) *Adapter {
	if url == "" {
		url = DefaultURL
	}
	return &Adapter{
		configs: configs,
		client:  client,
		caller:  providers.NewCaller(models.ProviderLinear, limiter, timeout, logger),
		url:     url,
		logger:  logger,
	}
}

func (a *Adapter) Provider() models.Provider { return models.ProviderLinear }

func (a *Adapter) connect(ctx context.Context, tenantID uuid.UUID) (*connection, error) {
	config, err := a.configs.Resolve(ctx, tenantID, models.ProviderLinear)
	if err != nil {
		return nil, err
	}
	conn := &connection{apiKey: config.Secret("apiKey"), teamID: config.ConfigString("teamId")}
	if conn.apiKey == "" {
		return nil, providers.NewError(models.ProviderLinear, "resolve", providers.ErrNotConfigured, 0, "linear requires an apiKey")
	}
	return conn, nil
}

// execute posts a GraphQL operation and decodes its data into out. GraphQL errors are
// permanent failures since retrying the same document cannot fix them.
func (a *Adapter) execute(ctx context.Context, tenantID uuid.UUID, conn *connection, op, query string, variables map[string]any, out any) error {
	if variables == nil {
		variables = map[string]any{}
	}
	return a.caller.Do(ctx, tenantID, op, func(ctx context.Context) error {
		var result graphQLResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetHeader("Authorization", conn.apiKey).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]any{"query": query, "variables": variables}).
			SetResult(&result).
			Post(a.url)
		if err := providers.Check(models.ProviderLinear, op, resp, err); err != nil {
			return err
		}
		if len(result.Errors) > 0 {
			messages := ectolinq.Map(result.Errors, func(e graphQLError) string { return e.Message })
			return providers.Permanent(models.ProviderLinear, op, strings.Join(messages, "; "))
		}
		if len(result.Data) == 0 || string(result.Data) == "null" {
			return providers.Permanent(models.ProviderLinear, op, "response carried no data")
		}
		if err := json.Unmarshal(result.Data, out); err != nil {
			return providers.Permanent(models.ProviderLinear, op, fmt.Sprintf("unexpected response shape: %v", err))
		}
		return nil
	})
}

type issueNodes struct {
	Nodes []issueDTO `json:"nodes"`
}

func toIssues(nodes []issueDTO) []Issue {
	issues := make([]Issue, 0, len(nodes))
	for i := range nodes {
		if nodes[i].ID == "" {
			continue
		}
		issues = append(issues, nodes[i].toIssue())
	}
	return issues
}

// GetIssues lists the most recently updated issues across the workspace
func (a *Adapter) GetIssues(ctx context.Context, tenantID uuid.UUID, first int) ([]Issue, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if first <= 0 {
		first = 50
	}
	query := `query GetIssues($first: Int!) {
	issues(first: $first, orderBy: updatedAt) { nodes {` + issueFields + ` } }
}`
	var data struct {
		Issues issueNodes `json:"issues"`
	}
	if err := a.execute(ctx, tenantID, conn, "get_issues", query, map[string]any{"first": first}, &data); err != nil {
		return nil, err
	}
	return toIssues(data.Issues.Nodes), nil
}

// GetIssuesByTeam lists a team's most recently updated issues
func (a *Adapter) GetIssuesByTeam(ctx context.Context, tenantID uuid.UUID, teamID string, first int) ([]Issue, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if first <= 0 {
		first = 50
	}
	query := `query GetTeamIssues($teamId: String!, $first: Int!) {
	team(id: $teamId) { issues(first: $first, orderBy: updatedAt) { nodes {` + issueFields + ` } } }
}`
	var data struct {
		Team *struct {
			Issues issueNodes `json:"issues"`
		} `json:"team"`
	}
	if err := a.execute(ctx, tenantID, conn, "get_team_issues", query, map[string]any{"teamId": teamID, "first": first}, &data); err != nil {
		return nil, err
	}
	if data.Team == nil {
		return nil, providers.NewError(models.ProviderLinear, "get_team_issues", providers.ErrNotFound, 0, "team not found")
	}
	return toIssues(data.Team.Issues.Nodes), nil
}

func (a *Adapter) GetIssue(ctx context.Context, tenantID uuid.UUID, id string) (*Issue, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	query := `query GetIssue($id: String!) {
	issue(id: $id) {` + issueFields + ` }
}`
	var data struct {
		Issue *issueDTO `json:"issue"`
	}
	if err := a.execute(ctx, tenantID, conn, "get_issue", query, map[string]any{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Issue == nil || data.Issue.ID == "" {
		return nil, providers.NewError(models.ProviderLinear, "get_issue", providers.ErrNotFound, 0, "issue not found")
	}
	issue := data.Issue.toIssue()
	return &issue, nil
}

type mutationResult struct {
	Success bool      `json:"success"`
	Issue   *issueDTO `json:"issue"`
}

func (m *mutationResult) issue(op string) (*Issue, error) {
	if !m.Success || m.Issue == nil {
		return nil, providers.Permanent(models.ProviderLinear, op, "linear reported the mutation as unsuccessful")
	}
	issue := m.Issue.toIssue()
	return &issue, nil
}

// CreateIssue creates an issue. The team defaults to the configured teamId and the
// priority to medium.
func (a *Adapter) CreateIssue(ctx context.Context, tenantID uuid.UUID, req CreateIssueRequest) (*Issue, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	teamID := req.TeamID
	if teamID == "" {
		teamID = conn.teamID
	}
	if teamID == "" {
		return nil, providers.Permanent(models.ProviderLinear, "create_issue", "teamId is required")
	}
	priority := PriorityMedium
	if req.Priority != nil {
		priority = *req.Priority
	}

	input := map[string]any{"teamId": teamID, "title": req.Title, "priority": priority}
	if req.Description != "" {
		input["description"] = req.Description
	}
	if len(req.LabelIDs) > 0 {
		input["labelIds"] = req.LabelIDs
	}
	if req.AssigneeID != "" {
		input["assigneeId"] = req.AssigneeID
	}

	query := `mutation CreateIssue($input: IssueCreateInput!) {
	issueCreate(input: $input) { success issue {` + issueFields + ` } }
}`
	var data struct {
		IssueCreate mutationResult `json:"issueCreate"`
	}
	if err := a.execute(ctx, tenantID, conn, "create_issue", query, map[string]any{"input": input}, &data); err != nil {
		return nil, err
	}
	issue, err := data.IssueCreate.issue("create_issue")
	if err != nil {
		return nil, err
	}
	a.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":  tenantID,
		"identifier": issue.Identifier,
	}).Info("Created Linear issue")
	return issue, nil
}

// UpdateIssue sends only the provided fields. With nothing to change it reads the issue back.
func (a *Adapter) UpdateIssue(ctx context.Context, tenantID uuid.UUID, id string, req UpdateIssueRequest) (*Issue, error) {
	input := map[string]any{}
	if req.Title != nil {
		input["title"] = *req.Title
	}
	if req.Description != nil {
		input["description"] = *req.Description
	}
	if req.Priority != nil {
		input["priority"] = *req.Priority
	}
	if req.StateID != nil {
		input["stateId"] = *req.StateID
	}
	if len(input) == 0 {
		return a.GetIssue(ctx, tenantID, id)
	}

	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	query := `mutation UpdateIssue($id: String!, $input: IssueUpdateInput!) {
	issueUpdate(id: $id, input: $input) { success issue {` + issueFields + ` } }
}`
	var data struct {
		IssueUpdate mutationResult `json:"issueUpdate"`
	}
	if err := a.execute(ctx, tenantID, conn, "update_issue", query, map[string]any{"id": id, "input": input}, &data); err != nil {
		return nil, err
	}
	return data.IssueUpdate.issue("update_issue")
}

func (a *Adapter) GetTeams(ctx context.Context, tenantID uuid.UUID) ([]Team, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var data struct {
		Teams struct {
			Nodes []Team `json:"nodes"`
		} `json:"teams"`
	}
	if err := a.execute(ctx, tenantID, conn, "get_teams", `query GetTeams { teams { nodes { id name key } } }`, nil, &data); err != nil {
		return nil, err
	}
	return ectolinq.Filter(data.Teams.Nodes, func(t Team) bool { return t.ID != "" }), nil
}

func (a *Adapter) GetWorkflowStates(ctx context.Context, tenantID uuid.UUID, teamID string) ([]WorkflowState, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	query := `query GetStates($teamId: String!) {
	team(id: $teamId) { states { nodes { id name type } } }
}`
	var data struct {
		Team *struct {
			States struct {
				Nodes []WorkflowState `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	if err := a.execute(ctx, tenantID, conn, "get_workflow_states", query, map[string]any{"teamId": teamID}, &data); err != nil {
		return nil, err
	}
	if data.Team == nil {
		return nil, providers.NewError(models.ProviderLinear, "get_workflow_states", providers.ErrNotFound, 0, "team not found")
	}
	return ectolinq.Filter(data.Team.States.Nodes, func(s WorkflowState) bool { return s.ID != "" }), nil
}

// Resource converts an issue to the canonical resource
func Resource(issue Issue) models.ExternalResource {
	return models.ExternalResource{
		Kind:        models.ResourceIssue,
		Provider:    models.ProviderLinear,
		ExternalID:  issue.ID,
		Key:         issue.Identifier,
		Title:       issue.Title,
		Description: issue.Description,
		Status:      issue.State,
		Priority:    PriorityToString(issue.Priority),
		Assignee:    issue.Assignee,
		Labels:      issue.Labels,
		URL:         issue.URL,
		CreatedAt:   parseTime(issue.CreatedAt),
		UpdatedAt:   parseTime(issue.UpdatedAt),
		Fields:      map[string]any{models.FieldTeam: issue.TeamID},
	}
}

func parseTime(s string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func (a *Adapter) ListResources(ctx context.Context, tenantID uuid.UUID, filter providers.ListFilter) ([]models.ExternalResource, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var (
		issues []Issue
		err    error
	)
	if filter.TeamID != "" {
		issues, err = a.GetIssuesByTeam(ctx, tenantID, filter.TeamID, limit)
	} else {
		issues, err = a.GetIssues(ctx, tenantID, limit)
	}
	if err != nil {
		return nil, err
	}
	return ectolinq.Map(issues, Resource), nil
}

func (a *Adapter) GetResource(ctx context.Context, tenantID uuid.UUID, externalID string) (*models.ExternalResource, error) {
	issue, err := a.GetIssue(ctx, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	r := Resource(*issue)
	return &r, nil
}

func (a *Adapter) CreateResource(ctx context.Context, tenantID uuid.UUID, req providers.ResourceRequest) (*models.ExternalResource, error) {
	create := CreateIssueRequest{
		TeamID:      req.Field("teamId"),
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.Assignee,
	}
	if req.Priority != "" {
		p := StringToPriority(req.Priority)
		create.Priority = &p
	}
	issue, err := a.CreateIssue(ctx, tenantID, create)
	if err != nil {
		return nil, err
	}
	r := Resource(*issue)
	return &r, nil
}

func (a *Adapter) UpdateResource(ctx context.Context, tenantID uuid.UUID, externalID string, req providers.ResourceRequest) (*models.ExternalResource, error) {
	var update UpdateIssueRequest
	if req.Title != "" {
		update.Title = &req.Title
	}
	if req.Description != "" {
		update.Description = &req.Description
	}
	if req.Priority != "" {
		p := StringToPriority(req.Priority)
		update.Priority = &p
	}
	if stateID := req.Field("stateId"); stateID != "" {
		update.StateID = &stateID
	}
	issue, err := a.UpdateIssue(ctx, tenantID, externalID, update)
	if err != nil {
		return nil, err
	}
	r := Resource(*issue)
	return &r, nil
}

var _ providers.Adapter = (*Adapter)(nil)
