// Package credentials owns per-tenant provider configuration. Writes build a new
// value from the stored one and persist it in a single upsert.
package credentials

import (
	"context"
	"errors"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// cacheTTL bounds how long a write made by another instance can go unseen
	cacheTTL     = 5 * time.Second
	cacheCleanup = time.Minute

	// ChatIDsKey holds the Telegram chats notifications go to
	ChatIDsKey = "chatIds"
)

// Store fronts the integration config repository with a short read cache
type Store struct {
	repo   repositories.IntegrationConfigRepo
	cache  *cache.Cache
	logger ectologger.Logger
}

func NewStore(repo repositories.IntegrationConfigRepo, logger ectologger.Logger) *Store {
	return &Store{
		repo:   repo,
		cache:  cache.New(cacheTTL, cacheCleanup),
		logger: logger,
	}
}

func cacheKey(tenantID uuid.UUID, provider models.Provider) string {
	return tenantID.String() + ":" + string(provider)
}

func (s *Store) invalidate(tenantID uuid.UUID, provider models.Provider) {
	s.cache.Delete(cacheKey(tenantID, provider))
}

// Get returns the tenant's config or an error matching providers.ErrNotConfigured.
// The returned value is a copy and safe to modify.
func (s *Store) Get(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.Get")
	defer span.End()

	key := cacheKey(tenantID, provider)
	if cached, ok := s.cache.Get(key); ok {
		return clone(cached.(*models.IntegrationConfig)), nil
	}

	config, err := s.repo.Get(appctx.WithTenant(ctx, tenantID), provider)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, providers.NotConfigured(provider)
		}
		return nil, err
	}

	s.cache.SetDefault(key, config)
	return clone(config), nil
}

// Resolve is Get for callers that need a usable config: a disabled config is an error
// matching providers.ErrDisabled.
func (s *Store) Resolve(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error) {
	config, err := s.Get(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	if !config.Enabled {
		return nil, providers.Disabled(provider)
	}
	return config, nil
}

// Save replaces the config and credential maps. It resets the sync status to idle
// and does not start a sync.
func (s *Store) Save(ctx context.Context, tenantID uuid.UUID, provider models.Provider, config, credentials map[string]any, enabled bool) (*models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.Save")
	defer span.End()

	config = maps.Clone(config)
	if config == nil {
		config = map[string]any{}
	}
	if baseURL, ok := config["baseUrl"].(string); ok {
		config["baseUrl"] = strings.TrimRight(baseURL, "/")
	}
	credentials = maps.Clone(credentials)
	if credentials == nil {
		credentials = map[string]any{}
	}

	saved, err := s.mutate(ctx, tenantID, provider, func(current *models.IntegrationConfig) (*models.IntegrationConfig, error) {
		next := clone(current)
		if next == nil {
			next = &models.IntegrationConfig{}
		}
		next.Enabled = enabled
		next.Config = database.NewJSONB(config)
		next.Credentials = database.NewJSONB(credentials)
		next.LastSyncStatus = models.SyncStatusIdle
		next.LastSyncError = nil
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"provider":  provider,
		"enabled":   enabled,
	}).Infof("Saved %s integration config", provider)
	return saved, nil
}

// Enable switches an existing config on
func (s *Store) Enable(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error) {
	return s.setEnabled(ctx, tenantID, provider, true)
}

// Disable switches an existing config off. Its credentials are kept.
func (s *Store) Disable(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (*models.IntegrationConfig, error) {
	return s.setEnabled(ctx, tenantID, provider, false)
}

func (s *Store) setEnabled(ctx context.Context, tenantID uuid.UUID, provider models.Provider, enabled bool) (*models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.SetEnabled")
	defer span.End()

	return s.mutate(ctx, tenantID, provider, func(current *models.IntegrationConfig) (*models.IntegrationConfig, error) {
		if current == nil {
			return nil, providers.NotConfigured(provider)
		}
		next := clone(current)
		next.Enabled = enabled
		return next, nil
	})
}

// Delete soft-deletes the config and purges its credentials
func (s *Store) Delete(ctx context.Context, tenantID uuid.UUID, provider models.Provider) error {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.Delete")
	defer span.End()

	defer s.invalidate(tenantID, provider)
	if err := s.repo.SoftDelete(appctx.WithTenant(ctx, tenantID), provider); err != nil {
		if repositories.IsNotFound(err) {
			return providers.NotConfigured(provider)
		}
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"provider":  provider,
	}).Infof("Deleted %s integration config", provider)
	return nil
}

// Status lists one redacted entry per known provider, connected or not
func (s *Store) Status(ctx context.Context, tenantID uuid.UUID) ([]models.IntegrationStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.Status")
	defer span.End()

	configs, err := s.repo.List(appctx.WithTenant(ctx, tenantID))
	if err != nil {
		return nil, err
	}

	return ectolinq.Map(models.Providers, func(p models.Provider) models.IntegrationStatus {
		matches := ectolinq.Filter(configs, func(c models.IntegrationConfig) bool { return c.Provider == p })
		if len(matches) == 0 {
			return (*models.IntegrationConfig)(nil).Status(p)
		}
		return matches[0].Status(p)
	}), nil
}

// StatusOf returns the redacted entry for a single provider, connected or not
func (s *Store) StatusOf(ctx context.Context, tenantID uuid.UUID, provider models.Provider) (models.IntegrationStatus, error) {
	config, err := s.Get(ctx, tenantID, provider)
	if errors.Is(err, providers.ErrNotConfigured) {
		return (*models.IntegrationConfig)(nil).Status(provider), nil
	}
	if err != nil {
		return models.IntegrationStatus{}, err
	}
	return config.Status(provider), nil
}

// SetSyncStatus records the outcome of a sync. Every status but syncing stamps last_sync_at.
func (s *Store) SetSyncStatus(ctx context.Context, tenantID uuid.UUID, provider models.Provider, status models.SyncStatus, errMsg string) error {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.SetSyncStatus")
	defer span.End()

	_, err := s.mutate(ctx, tenantID, provider, func(current *models.IntegrationConfig) (*models.IntegrationConfig, error) {
		if current == nil {
			return nil, nil
		}
		next := clone(current)
		next.LastSyncStatus = status
		next.LastSyncError = nil
		if errMsg != "" {
			next.LastSyncError = &errMsg
		}
		if status != models.SyncStatusSyncing {
			now := time.Now().UTC()
			next.LastSyncAt = &now
		}
		return next, nil
	})
	return err
}

// UpdateCredentials merges patch into the stored credentials
func (s *Store) UpdateCredentials(ctx context.Context, tenantID uuid.UUID, provider models.Provider, patch map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.UpdateCredentials")
	defer span.End()

	_, err := s.mutate(ctx, tenantID, provider, func(current *models.IntegrationConfig) (*models.IntegrationConfig, error) {
		if current == nil {
			return nil, providers.NotConfigured(provider)
		}
		next := clone(current)
		credentials := maps.Clone(next.Credentials.Data)
		if credentials == nil {
			credentials = map[string]any{}
		}
		maps.Copy(credentials, patch)
		next.Credentials = database.NewJSONB(credentials)
		return next, nil
	})
	return err
}

// SaveTelegramChatIDs sets the notification chats, creating and enabling the telegram config as needed
func (s *Store) SaveTelegramChatIDs(ctx context.Context, tenantID uuid.UUID, chatIDs []int64) (*models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.SaveTelegramChatIDs")
	defer span.End()

	ids := make([]any, 0, len(chatIDs))
	for _, id := range chatIDs {
		ids = append(ids, id)
	}

	return s.mutate(ctx, tenantID, models.ProviderTelegram, func(current *models.IntegrationConfig) (*models.IntegrationConfig, error) {
		next := clone(current)
		if next == nil {
			next = &models.IntegrationConfig{}
		}
		config := maps.Clone(next.Config.Data)
		if config == nil {
			config = map[string]any{}
		}
		config[ChatIDsKey] = ids
		next.Config = database.NewJSONB(config)
		next.Enabled = true
		return next, nil
	})
}

func (s *Store) mutate(ctx context.Context, tenantID uuid.UUID, provider models.Provider, fn repositories.ConfigMutation) (*models.IntegrationConfig, error) {
	defer s.invalidate(tenantID, provider)

	saved, err := s.repo.Mutate(appctx.WithTenant(ctx, tenantID), provider, fn)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, nil
	}
	return clone(saved), nil
}

// ChatIDs reads the configured Telegram chat ids. Numbers and numeric strings are accepted;
// anything else is skipped.
func ChatIDs(config *models.IntegrationConfig) []int64 {
	if config == nil {
		return nil
	}
	raw, ok := config.Config.Data[ChatIDsKey].([]any)
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		if id, ok := ParseChatID(v); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParseChatID accepts a JSON number or a numeric string
func ParseChatID(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		if id != float64(int64(id)) {
			return 0, false
		}
		return int64(id), true
	case int64:
		return id, true
	case int:
		return int64(id), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func clone(c *models.IntegrationConfig) *models.IntegrationConfig {
	if c == nil {
		return nil
	}
	next := *c
	next.Config = database.NewJSONB(maps.Clone(c.Config.Data))
	next.Credentials = database.NewJSONB(maps.Clone(c.Credentials.Data))
	return &next
}

var _ providers.ConfigResolver = (*Store)(nil)
