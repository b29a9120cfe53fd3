// Package jira adapts the Jira Cloud REST API (v3) to the provider interface.
package jira

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

const (
	DefaultIssueType = "Task"
	UnknownStatus    = "Unknown"

	// SyncJQL selects the issues pulled by a sync run
	SyncJQL = "project IS NOT EMPTY ORDER BY updated DESC"
)

var searchFields = []string{
	"summary", "description", "status", "priority", "issuetype",
	"assignee", "reporter", "created", "updated", "labels",
}

// Issue is the flattened Jira issue
type Issue struct {
	ID          string   `json:"id"`
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority,omitempty"`
	IssueType   string   `json:"issueType"`
	Assignee    string   `json:"assignee,omitempty"`
	Reporter    string   `json:"reporter,omitempty"`
	Created     string   `json:"created"`
	Updated     string   `json:"updated"`
	Labels      []string `json:"labels"`
}

type CreateIssueRequest struct {
	ProjectKey        string         `json:"projectKey"`
	Summary           string         `json:"summary" validate:"required"`
	Description       string         `json:"description"`
	IssueType         string         `json:"issueType"`
	Priority          string         `json:"priority"`
	Labels            []string       `json:"labels"`
	AssigneeAccountID string         `json:"assigneeAccountId"`
	CustomFields      map[string]any `json:"customFields"`
}

// UpdateIssueRequest leaves nil fields unchanged
type UpdateIssueRequest struct {
	Summary     *string  `json:"summary"`
	Description *string  `json:"description"`
	Priority    *string  `json:"priority"`
	Labels      []string `json:"labels"`
	Status      *string  `json:"status"`
}

// ConnectionResult is reported by TestConnection
type ConnectionResult struct {
	Connected  bool   `json:"connected"`
	BaseURL    string `json:"baseUrl"`
	IssueCount int    `json:"issueCount"`
}

type named struct {
	Name string `json:"name"`
}

type person struct {
	DisplayName string `json:"displayName"`
}

type issueDTO struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary     string   `json:"summary"`
		Description *adfNode `json:"description"`
		Status      *named   `json:"status"`
		Priority    *named   `json:"priority"`
		IssueType   *named   `json:"issuetype"`
		Assignee    *person  `json:"assignee"`
		Reporter    *person  `json:"reporter"`
		Created     string   `json:"created"`
		Updated     string   `json:"updated"`
		Labels      []string `json:"labels"`
	} `json:"fields"`
}

func (d issueDTO) toIssue() Issue {
	f := d.Fields
	issue := Issue{
		ID:          d.ID,
		Key:         d.Key,
		Summary:     f.Summary,
		Description: fromADF(f.Description),
		Status:      UnknownStatus,
		IssueType:   DefaultIssueType,
		Created:     f.Created,
		Updated:     f.Updated,
		Labels:      f.Labels,
	}
	if f.Status != nil && f.Status.Name != "" {
		issue.Status = f.Status.Name
	}
	if f.Priority != nil {
		issue.Priority = f.Priority.Name
	}
	if f.IssueType != nil && f.IssueType.Name != "" {
		issue.IssueType = f.IssueType.Name
	}
	if f.Assignee != nil {
		issue.Assignee = f.Assignee.DisplayName
	}
	if f.Reporter != nil {
		issue.Reporter = f.Reporter.DisplayName
	}
	if issue.Labels == nil {
		issue.Labels = []string{}
	}
	return issue
}

type connection struct {
	baseURL           string
	email             string
	apiToken          string
	defaultProjectKey string
}

// Adapter talks to a tenant's Jira site with basic auth (email + API token)
type Adapter struct {
	configs providers.ConfigResolver
	client  *resty.Client
	caller  *providers.Caller
	logger  ectologger.Logger
}

func New(configs providers.ConfigResolver, client *resty.Client, limiter providers.Limiter, timeout time.Duration, logger ectologger.Logger) *Adapter {
	return &Adapter{
		configs: configs,
		client:  client,
		caller:  providers.NewCaller(models.ProviderJira, limiter, timeout, logger),
		logger:  logger,
	}
}

func (a *Adapter) Provider() models.Provider { return models.ProviderJira }

func (a *Adapter) connect(ctx context.Context, tenantID uuid.UUID) (*connection, error) {
	config, err := a.configs.Resolve(ctx, tenantID, models.ProviderJira)
	if err != nil {
		return nil, err
	}
	conn := &connection{
		baseURL:           strings.TrimRight(config.ConfigString("baseUrl"), "/"),
		email:             config.Lookup("email"),
		apiToken:          config.Secret("apiToken"),
		defaultProjectKey: config.ConfigString("defaultProjectKey"),
	}
	if conn.baseURL == "" || conn.email == "" || conn.apiToken == "" {
		return nil, providers.NewError(models.ProviderJira, "resolve", providers.ErrNotConfigured, 0, "jira requires baseUrl, email and apiToken")
	}
	return conn, nil
}

func (a *Adapter) request(ctx context.Context, conn *connection) *resty.Request {
	return a.client.R().
		SetContext(ctx).
		SetBasicAuth(conn.email, conn.apiToken).
		SetHeader("Accept", "application/json")
}

// BaseURL returns the tenant's Jira site, used to build browse links
func (a *Adapter) BaseURL(ctx context.Context, tenantID uuid.UUID) (string, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return conn.baseURL, nil
}

// CreateIssue creates the issue and reads it back by key
func (a *Adapter) CreateIssue(ctx context.Context, tenantID uuid.UUID, req CreateIssueRequest) (*Issue, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	projectKey := req.ProjectKey
	if projectKey == "" {
		projectKey = conn.defaultProjectKey
	}
	if projectKey == "" {
		return nil, providers.Permanent(models.ProviderJira, "create_issue", "projectKey is required")
	}
	issueType := req.IssueType
	if issueType == "" {
		issueType = DefaultIssueType
	}

	fields := map[string]any{
		"project":   map[string]any{"key": projectKey},
		"summary":   req.Summary,
		"issuetype": map[string]any{"name": issueType},
	}
	if req.Description != "" {
		fields["description"] = toADF(req.Description)
	}
	if req.Priority != "" {
		fields["priority"] = map[string]any{"name": req.Priority}
	}
	if len(req.Labels) > 0 {
		fields["labels"] = req.Labels
	}
	if req.AssigneeAccountID != "" {
		fields["assignee"] = map[string]any{"accountId": req.AssigneeAccountID}
	}
	for k, v := range req.CustomFields {
		fields[k] = v
	}

	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	err = a.caller.Do(ctx, tenantID, "create_issue", func(ctx context.Context) error {
		resp, err := a.request(ctx, conn).
			SetBody(map[string]any{"fields": fields}).
			SetResult(&created).
			Post(conn.baseURL + "/rest/api/3/issue")
		return providers.Check(models.ProviderJira, "create_issue", resp, err)
	})
	if err != nil {
		return nil, err
	}
	if created.Key == "" {
		return nil, providers.Permanent(models.ProviderJira, "create_issue", "jira did not return an issue key")
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"issue_key": created.Key,
	}).Info("Created Jira issue")
	return a.getIssue(ctx, tenantID, conn, created.Key)
}

func (a *Adapter) GetIssue(ctx context.Context, tenantID uuid.UUID, key string) (*Issue, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return a.getIssue(ctx, tenantID, conn, key)
}

func (a *Adapter) getIssue(ctx context.Context, tenantID uuid.UUID, conn *connection, key string) (*Issue, error) {
	var dto issueDTO
	err := a.caller.Do(ctx, tenantID, "get_issue", func(ctx context.Context) error {
		resp, err := a.request(ctx, conn).
			SetPathParam("key", key).
			SetResult(&dto).
			Get(conn.baseURL + "/rest/api/3/issue/{key}")
		return providers.Check(models.ProviderJira, "get_issue", resp, err)
	})
	if err != nil {
		return nil, err
	}
	issue := dto.toIssue()
	return &issue, nil
}

// UpdateIssue writes the changed fields, then runs a transition when a status is given.
// The transition is resolved before anything is written.
func (a *Adapter) UpdateIssue(ctx context.Context, tenantID uuid.UUID, key string, req UpdateIssueRequest) (*Issue, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// resolve the transition first so an unavailable status leaves the issue untouched
	var transitionID string
	if req.Status != nil && *req.Status != "" {
		transitionID, err = a.findTransition(ctx, tenantID, conn, key, *req.Status)
		if err != nil {
			return nil, err
		}
	}

	fields := map[string]any{}
	if req.Summary != nil {
		fields["summary"] = *req.Summary
	}
	if req.Description != nil {
		fields["description"] = toADF(*req.Description)
	}
	if req.Priority != nil {
		fields["priority"] = map[string]any{"name": *req.Priority}
	}
	if req.Labels != nil {
		fields["labels"] = req.Labels
	}

	if len(fields) > 0 {
		err = a.caller.Do(ctx, tenantID, "update_issue", func(ctx context.Context) error {
			resp, err := a.request(ctx, conn).
				SetPathParam("key", key).
				SetBody(map[string]any{"fields": fields}).
				Put(conn.baseURL + "/rest/api/3/issue/{key}")
			return providers.Check(models.ProviderJira, "update_issue", resp, err)
		})
		if err != nil {
			return nil, err
		}
	}

	if transitionID != "" {
		if err := a.applyTransition(ctx, tenantID, conn, key, transitionID); err != nil {
			return nil, err
		}
	}

	return a.getIssue(ctx, tenantID, conn, key)
}

// SearchIssues runs a JQL search
func (a *Adapter) SearchIssues(ctx context.Context, tenantID uuid.UUID, jql string, maxResults int) ([]Issue, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	issues, _, err := a.search(ctx, tenantID, conn, jql, maxResults)
	return issues, err
}

func (a *Adapter) search(ctx context.Context, tenantID uuid.UUID, conn *connection, jql string, maxResults int) ([]Issue, int, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	var result struct {
		Total  int        `json:"total"`
		Issues []issueDTO `json:"issues"`
	}
	err := a.caller.Do(ctx, tenantID, "search", func(ctx context.Context) error {
		resp, err := a.request(ctx, conn).
			SetBody(map[string]any{
				"jql":        jql,
				"maxResults": maxResults,
				"fields":     searchFields,
			}).
			SetResult(&result).
			Post(conn.baseURL + "/rest/api/3/search")
		return providers.Check(models.ProviderJira, "search", resp, err)
	})
	if err != nil {
		return nil, 0, err
	}

	issues := make([]Issue, 0, len(result.Issues))
	for _, dto := range result.Issues {
		if dto.ID == "" || dto.Key == "" {
			continue
		}
		issues = append(issues, dto.toIssue())
	}
	return issues, result.Total, nil
}

// TransitionIssue moves the issue to the transition whose name matches status, ignoring case
func (a *Adapter) TransitionIssue(ctx context.Context, tenantID uuid.UUID, key, status string) error {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return err
	}
	return a.transition(ctx, tenantID, conn, key, status)
}

func (a *Adapter) transition(ctx context.Context, tenantID uuid.UUID, conn *connection, key, status string) error {
	transitionID, err := a.findTransition(ctx, tenantID, conn, key, status)
	if err != nil {
		return err
	}
	return a.applyTransition(ctx, tenantID, conn, key, transitionID)
}

// findTransition resolves a status name to a transition id available on the issue
func (a *Adapter) findTransition(ctx context.Context, tenantID uuid.UUID, conn *connection, key, status string) (string, error) {
	var available struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"transitions"`
	}
	err := a.caller.Do(ctx, tenantID, "get_transitions", func(ctx context.Context) error {
		resp, err := a.request(ctx, conn).
			SetPathParam("key", key).
			SetResult(&available).
			Get(conn.baseURL + "/rest/api/3/issue/{key}/transitions")
		return providers.Check(models.ProviderJira, "get_transitions", resp, err)
	})
	if err != nil {
		return "", err
	}

	for _, t := range available.Transitions {
		if strings.EqualFold(t.Name, status) {
			return t.ID, nil
		}
	}
	return "", providers.Permanent(models.ProviderJira, "transition", fmt.Sprintf("no transition to %q is available for %s", status, key))
}

func (a *Adapter) applyTransition(ctx context.Context, tenantID uuid.UUID, conn *connection, key, transitionID string) error {
	return a.caller.Do(ctx, tenantID, "transition", func(ctx context.Context) error {
		resp, err := a.request(ctx, conn).
			SetPathParam("key", key).
			SetBody(map[string]any{"transition": map[string]any{"id": transitionID}}).
			Post(conn.baseURL + "/rest/api/3/issue/{key}/transitions")
		return providers.Check(models.ProviderJira, "transition", resp, err)
	})
}

func (a *Adapter) AddComment(ctx context.Context, tenantID uuid.UUID, key, comment string) error {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return err
	}
	return a.caller.Do(ctx, tenantID, "add_comment", func(ctx context.Context) error {
		resp, err := a.request(ctx, conn).
			SetPathParam("key", key).
			SetBody(map[string]any{"body": toADF(comment)}).
			Post(conn.baseURL + "/rest/api/3/issue/{key}/comment")
		return providers.Check(models.ProviderJira, "add_comment", resp, err)
	})
}

// TestConnection runs a one-result search to prove the credentials work
func (a *Adapter) TestConnection(ctx context.Context, tenantID uuid.UUID) (*ConnectionResult, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	issues, total, err := a.search(ctx, tenantID, conn, "project IS NOT EMPTY", 1)
	if err != nil {
		return nil, err
	}
	if total < len(issues) {
		total = len(issues)
	}
	return &ConnectionResult{Connected: true, BaseURL: conn.baseURL, IssueCount: total}, nil
}

// Resource converts an issue to the canonical resource. baseURL builds the browse link.
func Resource(issue Issue, baseURL string) models.ExternalResource {
	r := models.ExternalResource{
		Kind:        models.ResourceIssue,
		Provider:    models.ProviderJira,
		ExternalID:  issue.ID,
		Key:         issue.Key,
		Title:       issue.Summary,
		Description: issue.Description,
		Status:      issue.Status,
		Priority:    issue.Priority,
		Assignee:    issue.Assignee,
		Labels:      issue.Labels,
		CreatedAt:   parseTime(issue.Created),
		UpdatedAt:   parseTime(issue.Updated),
		Fields: map[string]any{
			models.FieldIssueType: issue.IssueType,
			models.FieldReporter:  issue.Reporter,
		},
	}
	if baseURL != "" {
		r.URL = baseURL + "/browse/" + issue.Key
	}
	return r
}

// Jira timestamps look like 2024-01-15T10:30:00.000+0000
func parseTime(s string) *time.Time {
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func (a *Adapter) ListResources(ctx context.Context, tenantID uuid.UUID, filter providers.ListFilter) ([]models.ExternalResource, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	jql := filter.Query
	if jql == "" {
		jql = SyncJQL
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	issues, _, err := a.search(ctx, tenantID, conn, jql, limit)
	if err != nil {
		return nil, err
	}
	resources := make([]models.ExternalResource, 0, len(issues))
	for _, issue := range issues {
		resources = append(resources, Resource(issue, conn.baseURL))
	}
	return resources, nil
}

func (a *Adapter) GetResource(ctx context.Context, tenantID uuid.UUID, externalID string) (*models.ExternalResource, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	issue, err := a.getIssue(ctx, tenantID, conn, externalID)
	if err != nil {
		return nil, err
	}
	r := Resource(*issue, conn.baseURL)
	return &r, nil
}

func (a *Adapter) CreateResource(ctx context.Context, tenantID uuid.UUID, req providers.ResourceRequest) (*models.ExternalResource, error) {
	issue, err := a.CreateIssue(ctx, tenantID, CreateIssueRequest{
		ProjectKey:        req.Field("projectKey"),
		Summary:           req.Title,
		Description:       req.Description,
		IssueType:         req.Field("issueType"),
		Priority:          req.Priority,
		Labels:            req.Labels,
		AssigneeAccountID: req.Assignee,
	})
	if err != nil {
		return nil, err
	}
	baseURL, _ := a.BaseURL(ctx, tenantID)
	r := Resource(*issue, baseURL)
	return &r, nil
}

func (a *Adapter) UpdateResource(ctx context.Context, tenantID uuid.UUID, externalID string, req providers.ResourceRequest) (*models.ExternalResource, error) {
	update := UpdateIssueRequest{Labels: req.Labels}
	if req.Title != "" {
		update.Summary = &req.Title
	}
	if req.Description != "" {
		update.Description = &req.Description
	}
	if req.Priority != "" {
		update.Priority = &req.Priority
	}
	if req.Status != "" {
		update.Status = &req.Status
	}
	issue, err := a.UpdateIssue(ctx, tenantID, externalID, update)
	if err != nil {
		return nil, err
	}
	baseURL, _ := a.BaseURL(ctx, tenantID)
	r := Resource(*issue, baseURL)
	return &r, nil
}

var _ providers.Adapter = (*Adapter)(nil)
