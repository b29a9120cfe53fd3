package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/database"
)

func TestStatus_RedactsSecretKeys(t *testing.T) {
	c := &IntegrationConfig{
		Provider: ProviderTelephony,
		Enabled:  true,
		Config: database.NewJSONB(map[string]any{
			"accountSid": "AC1",
			"apiKey":     "k",
			"apiSecret":  "s",
			"provider":   "twilio",
		}),
		Credentials: database.NewJSONB(map[string]any{"apiKey": "k"}),
	}

	status := c.Status(ProviderTelephony)
	assert.Equal(t, map[string]any{"accountSid": "AC1", "provider": "twilio"}, status.Config)
	assert.True(t, status.Configured)
}

func TestLookup_PrefersCredentials(t *testing.T) {
	c := &IntegrationConfig{
		Config:      database.NewJSONB(map[string]any{"email": "config@acme.io", "count": float64(3)}),
		Credentials: database.NewJSONB(map[string]any{"email": "creds@acme.io"}),
	}
	assert.Equal(t, "creds@acme.io", c.Lookup("email"))
	assert.Equal(t, "3", c.Lookup("count"))
	assert.Empty(t, c.Secret("count"))
}

func TestStatus_NilConfig(t *testing.T) {
	var c *IntegrationConfig
	assert.Equal(t, IntegrationStatus{Provider: ProviderJira}, c.Status(ProviderJira))
}
