// Package providertest provides helpers for adapter tests.
package providertest

import (
	"context"
	"net/http"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

// Logger discards everything
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// Client returns a plain resty client
func Client() *resty.Client {
	return resty.New()
}

// Config builds an enabled config
func Config(provider models.Provider, config, credentials map[string]any) *models.IntegrationConfig {
	if config == nil {
		config = map[string]any{}
	}
	if credentials == nil {
		credentials = map[string]any{}
	}
	return &models.IntegrationConfig{
		ID:             uuid.New(),
		Provider:       provider,
		Enabled:        true,
		Config:         database.NewJSONB(config),
		Credentials:    database.NewJSONB(credentials),
		LastSyncStatus: models.SyncStatusIdle,
	}
}

// Resolver always answers with config, stamped with the requested tenant.
// A nil config resolves to a not-configured error.
func Resolver(config *models.IntegrationConfig) providers.ResolverFunc {
	return func(_ context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error) {
		if config == nil {
			return nil, providers.NotConfigured(provider)
		}
		if !config.Enabled {
			return nil, providers.Disabled(provider)
		}
		c := *config
		c.TenantID = tenantID
		return &c, nil
	}
}

// Tokens hands out Current and swaps in Next on Refresh
type Tokens struct {
	mu          sync.Mutex
	Current     *oauth2.Token
	Next        *oauth2.Token
	RefreshErr  error
	Refreshes   int
	Invalidated int
}

func (t *Tokens) Token(_ context.Context, _ *models.IntegrationConfig) (*oauth2.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Current, nil
}

func (t *Tokens) Refresh(_ context.Context, _ *models.IntegrationConfig) (*oauth2.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Refreshes++
	if t.RefreshErr != nil {
		return nil, t.RefreshErr
	}
	if t.Next != nil {
		t.Current = t.Next
	}
	return t.Current, nil
}

func (t *Tokens) Invalidate(_ context.Context, _ uuid.UUID, _ models.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Invalidated++
}

func (t *Tokens) HTTPClient(ctx context.Context, token *oauth2.Token) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
}

// GoogleConfig is an enabled config carrying an OAuth token pair
func GoogleConfig(provider models.Provider) *models.IntegrationConfig {
	return Config(provider, nil, map[string]any{"accessToken": "old", "refreshToken": "refresh"})
}
