package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories/memory"
)

func newTestStore() *Store {
	return NewStore(memory.NewStore().Configs(), ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestStore_GetNotConfigured(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), uuid.New(), models.ProviderJira)
	assert.ErrorIs(t, err, providers.ErrNotConfigured)

	_, err = s.Resolve(context.Background(), uuid.New(), models.ProviderJira)
	assert.ErrorIs(t, err, providers.ErrNotConfigured)
}

func TestStore_SaveReplacesAndKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	tenantID := uuid.New()

	first, err := s.Save(ctx, tenantID, models.ProviderJira,
		map[string]any{"baseUrl": "https://acme.atlassian.net/", "defaultProjectKey": "CRM"},
		map[string]any{"email": "ops@acme.io", "apiToken": "t1"}, true)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.atlassian.net", first.ConfigString("baseUrl"))
	assert.Equal(t, models.SyncStatusIdle, first.LastSyncStatus)

	second, err := s.Save(ctx, tenantID, models.ProviderJira,
		map[string]any{"baseUrl": "https://acme.atlassian.net"},
		map[string]any{"email": "ops@acme.io", "apiToken": "t2"}, true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := s.Resolve(ctx, tenantID, models.ProviderJira)
	require.NoError(t, err)
	assert.Equal(t, "t2", got.Secret("apiToken"))
	assert.Empty(t, got.ConfigString("defaultProjectKey"))
}

func TestStore_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	tenantID := uuid.New()

	_, err := s.Save(ctx, tenantID, models.ProviderLinear, map[string]any{"teamId": "T1"}, map[string]any{"apiKey": "k"}, true)
	require.NoError(t, err)

	got, err := s.Get(ctx, tenantID, models.ProviderLinear)
	require.NoError(t, err)
	got.Config.Data["teamId"] = "mutated"

	again, err := s.Get(ctx, tenantID, models.ProviderLinear)
	require.NoError(t, err)
	assert.Equal(t, "T1", again.ConfigString("teamId"))
}

func TestStore_EnableDisable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	tenantID := uuid.New()

	_, err := s.Enable(ctx, tenantID, models.ProviderTelegram)
	assert.ErrorIs(t, err, providers.ErrNotConfigured)

	_, err = s.Save(ctx, tenantID, models.ProviderTelegram, nil, map[string]any{"botToken": "b"}, true)
	require.NoError(t, err)

	_, err = s.Disable(ctx, tenantID, models.ProviderTelegram)
	require.NoError(t, err)
	_, err = s.Resolve(ctx, tenantID, models.ProviderTelegram)
	assert.ErrorIs(t, err, providers.ErrDisabled)

	_, err = s.Enable(ctx, tenantID, models.ProviderTelegram)
	require.NoError(t, err)
	got, err := s.Resolve(ctx, tenantID, models.ProviderTelegram)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Secret("botToken"))
}

func TestStore_StatusRedactsAndListsEveryProvider(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	tenantID := uuid.New()

	_, err := s.Save(ctx, tenantID, models.ProviderJira,
		map[string]any{"baseUrl": "https://x", "apiToken": "leak", "password": "p", "secret": "s"},
		map[string]any{"apiToken": "t"}, true)
	require.NoError(t, err)

	statuses, err := s.Status(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, statuses, len(models.Providers))

	for i, p := range models.Providers {
		assert.Equal(t, p, statuses[i].Provider)
	}

	jira := statuses[0]
	assert.True(t, jira.Enabled)
	assert.True(t, jira.Configured)
	assert.Equal(t, map[string]any{"baseUrl": "https://x"}, jira.Config)

	linear := statuses[1]
	assert.False(t, linear.Enabled)
	assert.False(t, linear.Configured)
}

func TestStore_DeletePurges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	tenantID := uuid.New()

	_, err := s.Save(ctx, tenantID, models.ProviderGmail, nil, map[string]any{"accessToken": "a"}, true)
	require.NoError(t, err)
	_, err = s.Get(ctx, tenantID, models.ProviderGmail)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, tenantID, models.ProviderGmail))
	_, err = s.Get(ctx, tenantID, models.ProviderGmail)
	assert.ErrorIs(t, err, providers.ErrNotConfigured)

	assert.ErrorIs(t, s.Delete(ctx, tenantID, models.ProviderGmail), providers.ErrNotConfigured)
}

func TestStore_SyncStatusAndCredentialPatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	tenantID := uuid.New()

	_, err := s.Save(ctx, tenantID, models.ProviderCalendar, nil, map[string]any{"accessToken": "old", "refreshToken": "r"}, true)
	require.NoError(t, err)

	require.NoError(t, s.SetSyncStatus(ctx, tenantID, models.ProviderCalendar, models.SyncStatusError, "calendar is unavailable"))
	got, err := s.Get(ctx, tenantID, models.ProviderCalendar)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, got.LastSyncStatus)
	require.NotNil(t, got.LastSyncError)
	assert.Equal(t, "calendar is unavailable", *got.LastSyncError)
	assert.NotNil(t, got.LastSyncAt)

	require.NoError(t, s.UpdateCredentials(ctx, tenantID, models.ProviderCalendar, map[string]any{"accessToken": "new"}))
	got, err = s.Get(ctx, tenantID, models.ProviderCalendar)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Secret("accessToken"))
	assert.Equal(t, "r", got.Secret("refreshToken"))
}

func TestStore_SaveTelegramChatIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	tenantID := uuid.New()

	saved, err := s.SaveTelegramChatIDs(ctx, tenantID, []int64{111, -100222})
	require.NoError(t, err)
	assert.True(t, saved.Enabled)
	assert.Equal(t, []int64{111, -100222}, ChatIDs(saved))
}

func TestParseChatID(t *testing.T) {
	id, ok := ParseChatID(float64(42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	id, ok = ParseChatID(" -1001 ")
	assert.True(t, ok)
	assert.Equal(t, int64(-1001), id)

	_, ok = ParseChatID("abc")
	assert.False(t, ok)
	_, ok = ParseChatID(1.5)
	assert.False(t, ok)
}

func TestStore_WriteFromAnotherInstanceVisibleAfterTTL(t *testing.T) {
	ctx := context.Background()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	repo := memory.NewStore().Configs()
	reader := NewStore(repo, logger)
	writer := NewStore(repo, logger)
	reader.cache = cache.New(50*time.Millisecond, time.Minute)
	tenantID := uuid.New()

	_, err := writer.Save(ctx, tenantID, models.ProviderLinear, nil, map[string]any{"apiKey": "k"}, true)
	require.NoError(t, err)
	_, err = reader.Resolve(ctx, tenantID, models.ProviderLinear)
	require.NoError(t, err)

	_, err = writer.Disable(ctx, tenantID, models.ProviderLinear)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := reader.Resolve(ctx, tenantID, models.ProviderLinear)
		return errors.Is(err, providers.ErrDisabled)
	}, time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, cacheTTL, 5*time.Second)
}
