// Package gsuite runs Google API calls for the Gmail and Calendar adapters with the
// tenant's OAuth token, classifying googleapi errors and retrying once after a
// forced token refresh.
package gsuite

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Ramsey-B/fern/pkg/auth"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
)

// Tokens is the slice of auth.TokenManager the session needs
type Tokens interface {
	Token(ctx context.Context, config *models.IntegrationConfig) (*oauth2.Token, error)
	Refresh(ctx context.Context, config *models.IntegrationConfig) (*oauth2.Token, error)
	Invalidate(ctx context.Context, tenantID uuid.UUID, provider models.Provider)
	HTTPClient(ctx context.Context, token *oauth2.Token) *http.Client
}

// Session binds a provider to its config resolver, token source and call wrapper
type Session struct {
	provider models.Provider
	configs  providers.ConfigResolver
	tokens   Tokens
	caller   *providers.Caller
	endpoint string
	logger   ectologger.Logger
}

func NewSession(provider models.Provider, configs providers.ConfigResolver, tokens Tokens, limiter providers.Limiter, timeout time.Duration, logger ectologger.Logger) *Session {
	return &Session{
		provider: provider,
		configs:  configs,
		tokens:   tokens,
		caller:   providers.NewCaller(provider, limiter, timeout, logger),
		logger:   logger,
	}
}

// WithEndpoint points the Google client at another base URL
func (s *Session) WithEndpoint(endpoint string) *Session {
	s.endpoint = endpoint
	return s
}

func (s *Session) Provider() models.Provider { return s.provider }

// Options builds the client options for a Google service constructor
func (s *Session) Options(client *http.Client) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	return opts
}

// Do resolves the tenant's config and token and runs fn with an authorized client.
// When Google rejects the token, the token is refreshed and fn runs once more.
func (s *Session) Do(ctx context.Context, tenantID uuid.UUID, op string, fn func(ctx context.Context, client *http.Client) error) error {
	config, err := s.configs.Resolve(ctx, tenantID, s.provider)
	if err != nil {
		return err
	}
	if config.Secret(auth.AccessTokenKey) == "" && config.Secret(auth.RefreshTokenKey) == "" {
		return providers.NewError(s.provider, "resolve", providers.ErrNotConfigured, 0, "google account is not connected")
	}

	token, err := s.tokens.Token(ctx, config)
	if err != nil {
		return err
	}

	err = s.call(ctx, tenantID, op, token, fn)
	if !errors.Is(err, providers.ErrAuthExpired) {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"provider":  s.provider,
		"operation": op,
	}).Info("Google rejected the access token, refreshing once")
	s.tokens.Invalidate(ctx, tenantID, s.provider)
	token, refreshErr := s.tokens.Refresh(ctx, config)
	if refreshErr != nil {
		return refreshErr
	}
	return s.call(ctx, tenantID, op, token, fn)
}

func (s *Session) call(ctx context.Context, tenantID uuid.UUID, op string, token *oauth2.Token, fn func(ctx context.Context, client *http.Client) error) error {
	return s.caller.Do(ctx, tenantID, op, func(ctx context.Context) error {
		if err := fn(ctx, s.tokens.HTTPClient(ctx, token)); err != nil {
			return Classify(s.provider, op, err)
		}
		return nil
	})
}

// Classify converts a googleapi error into the provider error taxonomy
func Classify(provider models.Provider, op string, err error) error {
	var pe *providers.Error
	if errors.As(err, &pe) {
		return pe
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		e := providers.FromStatus(provider, op, apiErr.Code, apiErr.Body)
		if retry := apiErr.Header.Get("Retry-After"); retry != "" {
			if d, perr := ratelimit.ParseRetryAfter(retry); perr == nil {
				e.RetryAfter = d
			}
		}
		return e
	}
	return providers.Transient(provider, op, err)
}
