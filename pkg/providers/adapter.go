// Package providers defines the capability interface every external system adapter
// implements, the shared error taxonomy and the outbound call wrapper.
package providers

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ListFilter narrows a ListResources call. Adapters ignore what they cannot use.
type ListFilter struct {
	// Query is provider syntax: JQL for Jira, a search string for Gmail.
	Query  string
	Limit  int
	Since  *time.Time
	Until  *time.Time
	TeamID string
}

// ResourceRequest carries the fields of a create or update. Empty fields are left alone on update.
type ResourceRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	Assignee    string         `json:"assignee"`
	Labels      []string       `json:"labels"`
	Fields      map[string]any `json:"fields"`
}

// Field reads a provider-specific request field as a string
func (r ResourceRequest) Field(key string) string {
	if v, ok := r.Fields[key].(string); ok {
		return v
	}
	return ""
}

// WebhookRequest is a raw inbound delivery
type WebhookRequest struct {
	Provider models.Provider
	// Variant selects a sub-format, e.g. the telephony vendor
	Variant    string
	TenantID   uuid.UUID
	Body       []byte
	Form       url.Values
	Headers    http.Header
	ReceivedAt time.Time
}

// Adapter is the capability surface shared by every provider
type Adapter interface {
	Provider() models.Provider
	ListResources(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]models.ExternalResource, error)
	GetResource(ctx context.Context, tenantID uuid.UUID, externalID string) (*models.ExternalResource, error)
	CreateResource(ctx context.Context, tenantID uuid.UUID, req ResourceRequest) (*models.ExternalResource, error)
	UpdateResource(ctx context.Context, tenantID uuid.UUID, externalID string, req ResourceRequest) (*models.ExternalResource, error)
	// ParseWebhook is pure. It returns an error matching ErrUnrecognized for payloads it cannot read.
	ParseWebhook(req WebhookRequest) (*models.IntegrationEvent, error)
}

// ConfigResolver looks up a tenant's usable config. It returns errors matching
// ErrNotConfigured or ErrDisabled for the normal negative outcomes.
type ConfigResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error)
}

// ResolverFunc adapts a function to ConfigResolver
type ResolverFunc func(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error)

func (f ResolverFunc) Resolve(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error) {
	return f(ctx, tenantID, provider)
}

// Registry selects adapters by provider
type Registry struct {
	adapters map[models.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Provider()] = a
}

func (r *Registry) Get(provider models.Provider) (Adapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}

// Providers lists the registered providers in a stable order
func (r *Registry) Providers() []models.Provider {
	out := make([]models.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewEvent fills the envelope fields common to every parsed webhook
func NewEvent(req WebhookRequest, eventType models.EventType, externalID string, payload map[string]any) *models.IntegrationEvent {
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	return &models.IntegrationEvent{
		Provider:   req.Provider,
		TenantID:   req.TenantID,
		Type:       eventType,
		ExternalID: externalID,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}
}
