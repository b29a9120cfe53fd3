package repositories_test

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var migrateOnce sync.Once

// getTestDB connects to the Postgres named by DB_HOST and applies the migrations once.
func getTestDB(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		t.Skip("DB_HOST not set")
	}

	cfg := database.Config{
		Host:     dbHost,
		Port:     envOr("DB_PORT", "5432"),
		User:     envOr("DB_USER_NAME", "user"),
		Password: envOr("DB_PASSWORD", "password"),
		Name:     envOr("DB_NAME", "fern"),
		SSLMode:  "disable",
	}
	db, err := sqlx.Connect("postgres", cfg.DSN())
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { _ = db.Close() })

	logger := getTestLogger()
	migrateOnce.Do(func() {
		ms := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
		require.NoError(t, ms.Migrate(db, cfg.Name))
	})

	return database.NewDatabaseInstance(db, logger)
}

func getTestContext(tenantID uuid.UUID) context.Context {
	return appctx.WithTenant(context.Background(), tenantID)
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, status, httperror.GetStatusCode(err))
}

func TestIntegrationConfigRepository_OneLiveRowPerProvider(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewIntegrationConfigRepository(db, getTestLogger())
	ctx := getTestContext(uuid.New())

	save := func(enabled bool, token string) *models.IntegrationConfig {
		cfg, err := repo.Mutate(ctx, models.ProviderJira, func(current *models.IntegrationConfig) (*models.IntegrationConfig, error) {
			next := &models.IntegrationConfig{
				Enabled:     enabled,
				Config:      database.NewJSONB(map[string]any{"baseUrl": "https://acme.atlassian.net"}),
				Credentials: database.NewJSONB(map[string]any{"apiToken": token}),
			}
			if current != nil {
				next.ID = current.ID
			}
			return next, nil
		})
		require.NoError(t, err)
		return cfg
	}

	first := save(true, "one")
	second := save(false, "two")
	assert.Equal(t, first.ID, second.ID)

	configs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.False(t, configs[0].Enabled)
	assert.Equal(t, "two", configs[0].Secret("apiToken"))

	require.NoError(t, repo.SoftDelete(ctx, models.ProviderJira))
	_, err = repo.Get(ctx, models.ProviderJira)
	assertStatus(t, err, http.StatusNotFound)

	// a fresh row may be created after a soft delete
	third := save(true, "three")
	assert.NotEqual(t, first.ID, third.ID)

	// other tenants do not see it
	_, err = repo.Get(getTestContext(uuid.New()), models.ProviderJira)
	assertStatus(t, err, http.StatusNotFound)
}

func TestIntegrationConfigRepository_TenantRequired(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewIntegrationConfigRepository(db, getTestLogger())

	_, err := repo.Get(context.Background(), models.ProviderJira)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestInteractionRepository_LogIsIdempotent(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewInteractionRepository(db, getTestLogger())
	ctx := getTestContext(uuid.New())

	newInteraction := func() *models.Interaction {
		return &models.Interaction{
			Type:            models.InteractionCall,
			Direction:       models.DirectionInbound,
			Status:          models.InteractionInProgress,
			Subject:         "Call from +15550100",
			ExternalID:      "CA123",
			IntegrationType: models.ProviderTelephony,
		}
	}

	first := newInteraction()
	created, err := repo.Log(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := newInteraction()
	created, err = repo.Log(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	require.NoError(t, repo.Complete(ctx, models.ProviderTelephony, "CA123", 42))
	require.NoError(t, repo.AppendDescription(ctx, models.ProviderTelephony, "CA123", "\n\nRecording: https://rec/1"))

	stored, err := repo.GetByExternalID(ctx, models.ProviderTelephony, "CA123")
	require.NoError(t, err)
	assert.Equal(t, models.InteractionCompleted, stored.Status)
	require.NotNil(t, stored.DurationSeconds)
	assert.Equal(t, 42, *stored.DurationSeconds)
	assert.Equal(t, "\n\nRecording: https://rec/1", stored.Description)

	err = repo.Complete(ctx, models.ProviderTelephony, "missing", 1)
	assertStatus(t, err, http.StatusNotFound)
}

func TestInteractionRepository_UpsertKeepsRecordedFields(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewInteractionRepository(db, getTestLogger())
	customers := repositories.NewCustomerRepository(db, getTestLogger())
	ctx := getTestContext(uuid.New())

	first := &models.Customer{FirstName: "Ada"}
	second := &models.Customer{FirstName: "Bob"}
	require.NoError(t, customers.Create(ctx, first))
	require.NoError(t, customers.Create(ctx, second))
	customerID := first.ID

	meeting := &models.Interaction{
		CustomerID:      &customerID,
		Type:            models.InteractionMeeting,
		Direction:       models.DirectionOutbound,
		Status:          models.InteractionScheduled,
		Subject:         "Kickoff",
		ExternalID:      "evt-1",
		IntegrationType: models.ProviderCalendar,
		OccurredAt:      time.Now().Add(time.Hour).UTC(),
	}
	inserted, err := repo.Upsert(ctx, meeting)
	require.NoError(t, err)
	assert.True(t, inserted)

	meeting.ID = uuid.Nil
	meeting.Subject = "Meeting"
	meeting.Description = "Location: Room 2"
	meeting.Status = models.InteractionCompleted
	meeting.CustomerID = &second.ID
	inserted, err = repo.Upsert(ctx, meeting)
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := repo.GetByExternalID(ctx, models.ProviderCalendar, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Kickoff", stored.Subject)
	assert.Equal(t, "Location: Room 2", stored.Description)
	assert.Equal(t, models.InteractionCompleted, stored.Status)
	require.NotNil(t, stored.CustomerID)
	assert.Equal(t, customerID, *stored.CustomerID)
}

func TestCustomerRepository_FindAndScore(t *testing.T) {
	db := getTestDB(t)
	logger := getTestLogger()
	customers := repositories.NewCustomerRepository(db, logger)
	interactions := repositories.NewInteractionRepository(db, logger)
	ctx := getTestContext(uuid.New())

	email := "Ada@Example.com"
	phone := "+1 (555) 010-0000"
	customer := &models.Customer{FirstName: "Ada", Email: &email, Phone: &phone, IsLead: true}
	require.NoError(t, customers.Create(ctx, customer))

	found, err := customers.Find(ctx, repositories.CustomerLookup{Phones: []string{"+15550100000"}})
	require.NoError(t, err)
	assert.Equal(t, customer.ID, found.ID)

	found, err = customers.Find(ctx, repositories.CustomerLookup{Emails: []string{"ada@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, customer.ID, found.ID)

	_, err = customers.Find(ctx, repositories.CustomerLookup{TelegramHandles: []string{"nobody"}})
	assertStatus(t, err, http.StatusNotFound)

	_, err = interactions.Log(ctx, &models.Interaction{
		Type: models.InteractionMessage, Direction: models.DirectionInbound, Status: models.InteractionCompleted,
		ExternalID: "m1", IntegrationType: models.ProviderTelegram, CustomerID: &customer.ID,
	})
	require.NoError(t, err)

	count, err := interactions.CountByCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, customers.UpdateLead(ctx, customer.ID, 25, models.LeadContacted))
	updated, err := customers.GetByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, updated.LeadScore)
	assert.Equal(t, models.LeadContacted, updated.LeadStatus)
}

func TestTrackedIssueRepository_UpsertAndCounts(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewTrackedIssueRepository(db, getTestLogger())
	ctx := getTestContext(uuid.New())

	issue := &models.TrackedIssue{
		Provider:    string(models.ProviderJira),
		ExternalID:  "10001",
		ExternalKey: "CRM-1",
		Title:       "First",
		Status:      models.IssueStatusTodo,
		Priority:    models.IssuePriorityMedium,
	}
	inserted, err := repo.Upsert(ctx, issue)
	require.NoError(t, err)
	assert.True(t, inserted)

	issue.ID = uuid.Nil
	issue.Status = models.IssueStatusDone
	inserted, err = repo.Upsert(ctx, issue)
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = repo.Upsert(ctx, &models.TrackedIssue{Provider: string(models.ProviderLinear), ExternalID: "lin-1", Title: "L"})
	require.NoError(t, err)

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Jira)
	assert.Equal(t, 1, counts.Linear)
	assert.Equal(t, 0, counts.Internal)
}
