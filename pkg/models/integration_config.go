package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// Provider identifies an external system the hub talks to
type Provider string

const (
	ProviderGmail     Provider = "gmail"
	ProviderCalendar  Provider = "calendar"
	ProviderJira      Provider = "jira"
	ProviderLinear    Provider = "linear"
	ProviderTelegram  Provider = "telegram"
	ProviderTelephony Provider = "telephony"
)

// Providers lists every known provider in display order
var Providers = []Provider{
	ProviderJira,
	ProviderLinear,
	ProviderGmail,
	ProviderCalendar,
	ProviderTelegram,
	ProviderTelephony,
}

// ParseProvider validates a provider name from a path or config value
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// PullCapable reports whether the sync orchestrator can list resources for the provider.
// Telegram only delivers by webhook; polling getUpdates would steal updates from it.
func (p Provider) PullCapable() bool {
	return p != ProviderTelegram
}

func (p Provider) String() string { return string(p) }

// SyncStatus is the last known state of a provider's sync
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// IntegrationConfig is a tenant's connection to a provider.
// Credentials never leave the service; use Status for display.
type IntegrationConfig struct {
	ID             uuid.UUID                      `db:"id" json:"id"`
	TenantID       uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	Provider       Provider                       `db:"provider" json:"provider"`
	Enabled        bool                           `db:"enabled" json:"enabled"`
	Config         database.JSONB[map[string]any] `db:"config" json:"config"`
	Credentials    database.JSONB[map[string]any] `db:"credentials" json:"-"`
	LastSyncAt     *time.Time                     `db:"last_sync_at" json:"last_sync_at,omitempty"`
	LastSyncStatus SyncStatus                     `db:"last_sync_status" json:"last_sync_status"`
	LastSyncError  *string                        `db:"last_sync_error" json:"last_sync_error,omitempty"`
	CreatedAt      time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                      `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time                     `db:"deleted_at" json:"-"`
}

// TableName returns the database table name
func (IntegrationConfig) TableName() string {
	return "integration_configs"
}

// ConfigString reads a non-secret config value as a string
func (c *IntegrationConfig) ConfigString(key string) string {
	return stringValue(c.Config.Data, key)
}

// Secret reads a credential value as a string
func (c *IntegrationConfig) Secret(key string) string {
	return stringValue(c.Credentials.Data, key)
}

// Lookup checks credentials first and then config. Use it for identifiers that may
// live in either map, never for secrets.
func (c *IntegrationConfig) Lookup(key string) string {
	if v := c.Secret(key); v != "" {
		return v
	}
	return c.ConfigString(key)
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// redactedKeys are dropped from the config map before display
var redactedKeys = map[string]struct{}{
	"accessToken":   {},
	"apiKey":        {},
	"apiSecret":     {},
	"apiToken":      {},
	"authToken":     {},
	"botToken":      {},
	"clientSecret":  {},
	"password":      {},
	"refreshToken":  {},
	"secret":        {},
	"webhookSecret": {},
}

// IntegrationStatus is the display form of an IntegrationConfig
type IntegrationStatus struct {
	Provider       Provider       `json:"provider"`
	Enabled        bool           `json:"enabled"`
	Configured     bool           `json:"configured"`
	LastSyncAt     *time.Time     `json:"last_sync_at,omitempty"`
	LastSyncStatus SyncStatus     `json:"last_sync_status,omitempty"`
	LastSyncError  *string        `json:"last_sync_error,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
}

// Status builds the redacted view. A nil config yields the not-connected entry.
func (c *IntegrationConfig) Status(provider Provider) IntegrationStatus {
	if c == nil {
		return IntegrationStatus{Provider: provider}
	}

	config := make(map[string]any, len(c.Config.Data))
	for k, v := range c.Config.Data {
		if _, ok := redactedKeys[k]; ok {
			continue
		}
		config[k] = v
	}

	return IntegrationStatus{
		Provider:       c.Provider,
		Enabled:        c.Enabled,
		Configured:     len(c.Credentials.Data) > 0,
		LastSyncAt:     c.LastSyncAt,
		LastSyncStatus: c.LastSyncStatus,
		LastSyncError:  c.LastSyncError,
		Config:         config,
	}
}
