// Package auth manages OAuth2 access tokens for the Google-backed providers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultSkew refreshes tokens this long before they expire
	DefaultSkew = time.Minute

	// CacheKeyPrefix is the prefix for OAuth token cache keys
	CacheKeyPrefix = "fern:oauth:"

	// Credential keys holding the token pair
	AccessTokenKey  = "accessToken"
	RefreshTokenKey = "refreshToken"
	ExpiryKey       = "expiry"
)

var ErrNoRefreshToken = errors.New("no refresh token stored")

// GoogleScopes are requested when tenants connect Gmail or Calendar
var GoogleScopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/calendar",
}

// CredentialWriter persists refreshed tokens
type CredentialWriter interface {
	UpdateCredentials(ctx context.Context, tenantID uuid.UUID, provider models.Provider, patch map[string]any) error
}

// NewGoogleConfig builds the OAuth client config for Google APIs
func NewGoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       GoogleScopes,
		Endpoint:     google.Endpoint,
	}
}

// TokenManager hands out valid access tokens, caching them in Redis and refreshing
// them through the OAuth token endpoint when they expire.
type TokenManager struct {
	oauth       *oauth2.Config
	redisClient *redis.Client
	store       CredentialWriter
	httpClient  *http.Client
	skew        time.Duration
	logger      ectologger.Logger
}

// NewTokenManager creates a TokenManager. redisClient may be nil, which disables caching.
func NewTokenManager(oauth *oauth2.Config, redisClient *redis.Client, store CredentialWriter, logger ectologger.Logger) *TokenManager {
	return &TokenManager{
		oauth:       oauth,
		redisClient: redisClient,
		store:       store,
		skew:        DefaultSkew,
		logger:      logger,
	}
}

// WithHTTPClient sets the client used to reach the token endpoint
func (m *TokenManager) WithHTTPClient(client *http.Client) *TokenManager {
	m.httpClient = client
	return m
}

func (m *TokenManager) cacheKey(tenantID uuid.UUID, provider models.Provider) string {
	return fmt.Sprintf("%s%s:%s", CacheKeyPrefix, tenantID, provider)
}

func (m *TokenManager) valid(token *oauth2.Token) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	return token.Expiry.IsZero() || time.Now().Add(m.skew).Before(token.Expiry)
}

// Token returns a usable access token for the config: the cached one, then the stored
// one, and otherwise a freshly refreshed one.
func (m *TokenManager) Token(ctx context.Context, config *models.IntegrationConfig) (*oauth2.Token, error) {
	ctx, span := tracing.StartSpan(ctx, "TokenManager.Token")
	defer span.End()

	if token := m.cached(ctx, config); m.valid(token) {
		return token, nil
	}

	if token := StoredToken(config); m.valid(token) {
		m.cache(ctx, config, token)
		return token, nil
	}

	return m.Refresh(ctx, config)
}

// Refresh exchanges the stored refresh token for a new access token and writes it back
func (m *TokenManager) Refresh(ctx context.Context, config *models.IntegrationConfig) (*oauth2.Token, error) {
	ctx, span := tracing.StartSpan(ctx, "TokenManager.Refresh")
	defer span.End()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": config.TenantID,
		"provider":  config.Provider,
	})

	refreshToken := config.Secret(RefreshTokenKey)
	if refreshToken == "" {
		log.Warn("Cannot refresh OAuth token without a refresh token")
		e := providers.NewError(config.Provider, "refresh_token", providers.ErrAuthExpired, http.StatusUnauthorized, "reconnect the integration to grant access")
		return nil, fmt.Errorf("%w: %w", e, ErrNoRefreshToken)
	}

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	token, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		log.WithError(err).Warn("OAuth token refresh failed")
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return nil, providers.NewError(config.Provider, "refresh_token", providers.ErrAuthExpired, http.StatusUnauthorized, "stored authorization was revoked")
		}
		return nil, providers.Transient(config.Provider, "refresh_token", err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	patch := map[string]any{AccessTokenKey: token.AccessToken}
	if token.RefreshToken != refreshToken {
		patch[RefreshTokenKey] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		patch[ExpiryKey] = token.Expiry.UTC().Format(time.RFC3339)
	}
	if m.store != nil {
		if err := m.store.UpdateCredentials(ctx, config.TenantID, config.Provider, patch); err != nil {
			log.WithError(err).Error("Failed to persist refreshed OAuth token")
		}
	}

	m.cache(ctx, config, token)
	log.Info("Refreshed OAuth token")
	return token, nil
}

// Invalidate drops the cached token so the next call reads or refreshes it again
func (m *TokenManager) Invalidate(ctx context.Context, tenantID uuid.UUID, provider models.Provider) {
	if m.redisClient == nil {
		return
	}
	if err := m.redisClient.Del(ctx, m.cacheKey(tenantID, provider)); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Failed to invalidate cached OAuth token")
	}
}

// HTTPClient returns a client that authorizes every request with token
func (m *TokenManager) HTTPClient(ctx context.Context, token *oauth2.Token) *http.Client {
	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
}

func (m *TokenManager) cached(ctx context.Context, config *models.IntegrationConfig) *oauth2.Token {
	if m.redisClient == nil {
		return nil
	}
	var token oauth2.Token
	found, err := m.redisClient.GetJSON(ctx, m.cacheKey(config.TenantID, config.Provider), &token)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Failed to read cached OAuth token")
		return nil
	}
	if !found {
		return nil
	}
	return &token
}

func (m *TokenManager) cache(ctx context.Context, config *models.IntegrationConfig, token *oauth2.Token) {
	if m.redisClient == nil {
		return
	}
	ttl := time.Hour
	if !token.Expiry.IsZero() {
		ttl = time.Until(token.Expiry) - m.skew
	}
	if ttl <= 0 {
		return
	}
	// the refresh token stays in the credential store only
	cached := &oauth2.Token{AccessToken: token.AccessToken, TokenType: token.TokenType, Expiry: token.Expiry}
	if err := m.redisClient.SetJSON(ctx, m.cacheKey(config.TenantID, config.Provider), cached, ttl); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Failed to cache OAuth token")
	}
}

// StoredToken reads the token pair from a config's credentials
func StoredToken(config *models.IntegrationConfig) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  config.Secret(AccessTokenKey),
		RefreshToken: config.Secret(RefreshTokenKey),
		TokenType:    "Bearer",
	}
	if expiry := config.Secret(ExpiryKey); expiry != "" {
		if t, err := time.Parse(time.RFC3339, expiry); err == nil {
			token.Expiry = t
		}
	}
	return token
}
