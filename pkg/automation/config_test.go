package automation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestDefaultRules(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Len(t, rules.Complaint.Keywords, 20)
	assert.Equal(t, 24*time.Hour, rules.Complaint.DueWithin)

	assert.True(t, rules.IsComplaint("This is NOT WORKING at all"))
	assert.True(t, rules.IsComplaint("I'll never again order"))
	assert.False(t, rules.IsComplaint("lovely service"))
	assert.False(t, rules.IsComplaint("   "))
}

func TestParseRules_OverridesDefaults(t *testing.T) {
	rules, err := ParseRules([]byte(`
complaint:
  keywords: [chargeback]
  due_within: 48h
identifiers:
  telegram:
    - kind: telegram
      expression: payload.from_username
    - kind: phone
      expression: payload.contact.phone_number
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"chargeback"}, rules.Complaint.Keywords)
	assert.Equal(t, 48*time.Hour, rules.Complaint.DueWithin)
	assert.Equal(t, DefaultComplaintTitle, rules.Complaint.Title)
	assert.Len(t, rules.Identifiers[models.ProviderTelegram], 2)
	assert.Len(t, rules.Identifiers[models.ProviderTelephony], 2)
	assert.True(t, rules.IsComplaint("filing a Chargeback"))
	assert.False(t, rules.IsComplaint("refund"))
}

func TestParseRules_Invalid(t *testing.T) {
	_, err := ParseRules([]byte("identifiers:\n  telegram:\n    - kind: fax\n      expression: payload.x\n"))
	assert.ErrorContains(t, err, "unknown kind")

	_, err = ParseRules([]byte("identifiers:\n  telegram:\n    - kind: phone\n      expression: 'payload.['\n"))
	assert.ErrorContains(t, err, "invalid expression")

	_, err = ParseRules([]byte("identifiers:\n  slack: []\n"))
	assert.ErrorContains(t, err, "unknown provider")

	_, err = ParseRules([]byte("complaint: ["))
	assert.Error(t, err)
}

func TestLoadRules_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("complaint:\n  title: Complaint follow-up\n"), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, "Complaint follow-up", rules.Complaint.Title)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
