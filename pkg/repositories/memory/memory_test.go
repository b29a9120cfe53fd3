package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
)

func TestInteractionUpsert_KeepsRecordedFields(t *testing.T) {
	repo := NewStore().Interactions()
	ctx := appctx.WithTenant(context.Background(), uuid.New())
	customerID := uuid.New()

	call := &models.Interaction{
		Type:            models.InteractionCall,
		Direction:       models.DirectionInbound,
		Status:          models.InteractionCompleted,
		Subject:         "Call from +15550100",
		Description:     "Call status: completed\n\nRecording: https://rec/1",
		ExternalID:      "CA1",
		IntegrationType: models.ProviderTelephony,
		CustomerID:      &customerID,
	}
	inserted, err := repo.Upsert(ctx, call)
	require.NoError(t, err)
	assert.True(t, inserted)

	duration := 30
	other := uuid.New()
	inserted, err = repo.Upsert(ctx, &models.Interaction{
		Type:            models.InteractionCall,
		Direction:       models.DirectionOutbound,
		Status:          models.InteractionCompleted,
		Subject:         "Call to +15550100",
		ExternalID:      "CA1",
		IntegrationType: models.ProviderTelephony,
		CustomerID:      &other,
		DurationSeconds: &duration,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := repo.GetByExternalID(ctx, models.ProviderTelephony, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "Call from +15550100", stored.Subject)
	assert.Equal(t, "Call status: completed\n\nRecording: https://rec/1", stored.Description)
	assert.Equal(t, models.DirectionInbound, stored.Direction)
	require.NotNil(t, stored.CustomerID)
	assert.Equal(t, customerID, *stored.CustomerID)
	require.NotNil(t, stored.DurationSeconds)
	assert.Equal(t, 30, *stored.DurationSeconds)
}

func TestInteractionUpsert_FillsMissingFields(t *testing.T) {
	repo := NewStore().Interactions()
	ctx := appctx.WithTenant(context.Background(), uuid.New())

	_, err := repo.Upsert(ctx, &models.Interaction{
		Type: models.InteractionEmail, Status: models.InteractionCompleted,
		ExternalID: "m1", IntegrationType: models.ProviderGmail,
	})
	require.NoError(t, err)

	customerID := uuid.New()
	_, err = repo.Upsert(ctx, &models.Interaction{
		Type: models.InteractionEmail, Status: models.InteractionCompleted, Subject: "Quote",
		ExternalID: "m1", IntegrationType: models.ProviderGmail, CustomerID: &customerID,
	})
	require.NoError(t, err)

	stored, err := repo.GetByExternalID(ctx, models.ProviderGmail, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Quote", stored.Subject)
	require.NotNil(t, stored.CustomerID)
	assert.Equal(t, customerID, *stored.CustomerID)
}
