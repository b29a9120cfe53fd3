package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const interactionsTable = "interactions"

var (
	interactionStruct      = database.NewStruct(new(models.Interaction))
	interactionConflictKey = []string{"tenant_id", "integration_type", "external_id"}
)

// InteractionRepository handles database operations for interactions
type InteractionRepository struct {
	*Repository
}

// NewInteractionRepository creates a new interaction repository
func NewInteractionRepository(db database.DB, logger ectologger.Logger) *InteractionRepository {
	return &InteractionRepository{
		Repository: NewRepository(db, logger),
	}
}

func (r *InteractionRepository) insertBuilder(interaction *models.Interaction) *database.InsertBuilder {
	ib := database.NewInsertBuilder()
	ib.InsertInto(interactionsTable).
		Cols("id", "tenant_id", "type", "direction", "status", "subject", "description", "duration_seconds",
			"customer_id", "account_id", "user_id", "external_id", "integration_type", "occurred_at",
			"created_at", "updated_at").
		Values(interaction.ID, interaction.TenantID, interaction.Type, interaction.Direction, interaction.Status,
			interaction.Subject, interaction.Description, interaction.DurationSeconds,
			interaction.CustomerID, interaction.AccountID, interaction.UserID, interaction.ExternalID,
			interaction.IntegrationType, interaction.OccurredAt, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	return ib
}

func (r *InteractionRepository) prepare(ctx context.Context, interaction *models.Interaction) error {
	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	interaction.TenantID = tenantID
	if interaction.ID == uuid.Nil {
		interaction.ID = uuid.New()
	}
	if interaction.OccurredAt.IsZero() {
		interaction.OccurredAt = time.Now().UTC()
	}
	return nil
}

// Log inserts the interaction, leaving an existing row with the same external id untouched.
func (r *InteractionRepository) Log(ctx context.Context, interaction *models.Interaction) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "InteractionRepository.Log")
	defer span.End()

	if err := r.prepare(ctx, interaction); err != nil {
		return false, err
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_type": interaction.IntegrationType,
		"external_id":      interaction.ExternalID,
	})

	ib := r.insertBuilder(interaction)
	ib.OnConflictDoNothing(interactionConflictKey...)
	ib.Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&interaction.CreatedAt, &interaction.UpdatedAt)
	if err == nil {
		log.WithField("interaction_id", interaction.ID).Debugf("Created %s", interactionsTable)
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.WithError(err).Error("failed to log interaction")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to log interaction")
	}

	existing, err := r.GetByExternalID(ctx, interaction.IntegrationType, interaction.ExternalID)
	if err != nil {
		return false, err
	}
	*interaction = *existing

	log.WithField("interaction_id", interaction.ID).Debug("Interaction already recorded")
	return false, nil
}

// Upsert inserts a synced interaction or refreshes the mutable columns of an existing one.
// Subject, description and customer already recorded are kept.
func (r *InteractionRepository) Upsert(ctx context.Context, interaction *models.Interaction) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "InteractionRepository.Upsert")
	defer span.End()

	if err := r.prepare(ctx, interaction); err != nil {
		return false, err
	}

	ib := r.insertBuilder(interaction)
	ub := ib.OnConflict(interactionConflictKey...)
	ub.Set(
		ub.Assign("subject", sqlbuilder.Raw("COALESCE(NULLIF(interactions.subject, ''), EXCLUDED.subject)")),
		ub.Assign("description", sqlbuilder.Raw("COALESCE(NULLIF(interactions.description, ''), EXCLUDED.description)")),
		ub.Assign("status", database.Excluded("status")),
		ub.Assign("duration_seconds", sqlbuilder.Raw("COALESCE(EXCLUDED.duration_seconds, interactions.duration_seconds)")),
		ub.Assign("customer_id", sqlbuilder.Raw("COALESCE(interactions.customer_id, EXCLUDED.customer_id)")),
		ub.Assign("occurred_at", database.Excluded("occurred_at")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ib.Returning("id", "created_at", "updated_at", "(xmax = 0) AS inserted")

	query, args := ib.Build()
	var inserted bool
	err := r.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&interaction.ID, &interaction.CreatedAt, &interaction.UpdatedAt, &inserted)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_type": interaction.IntegrationType,
			"external_id":      interaction.ExternalID,
		}).Error("failed to upsert interaction")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert interaction")
	}
	return inserted, nil
}

// GetByExternalID retrieves an interaction by its provider id (tenant-scoped)
func (r *InteractionRepository) GetByExternalID(ctx context.Context, provider models.Provider, externalID string) (*models.Interaction, error) {
	ctx, span := tracing.StartSpan(ctx, "InteractionRepository.GetByExternalID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := interactionStruct.SelectFrom(interactionsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("integration_type", provider), sb.Equal("external_id", externalID))

	query, args := sb.Build()
	var interaction models.Interaction
	err = r.Conn(ctx).GetContext(ctx, &interaction, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "interaction %s does not exist", externalID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_id": externalID,
		}).Error("failed to get interaction by external id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get interaction")
	}
	return &interaction, nil
}

func (r *InteractionRepository) update(ctx context.Context, op string, provider models.Provider, externalID string, assignments func(ub *database.UpdateBuilder) []string) error {
	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(interactionsTable).
		Set(append(assignments(ub), ub.Assign("updated_at", sqlbuilder.Raw("NOW()")))...).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("integration_type", provider), ub.Equal("external_id", externalID))

	query, args := ub.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_id": externalID,
		}).Errorf("failed to %s interaction", op)
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to %s interaction", op)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to %s interaction", op)
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "interaction %s does not exist", externalID)
	}
	return nil
}

// Complete marks a call interaction finished with its duration
func (r *InteractionRepository) Complete(ctx context.Context, provider models.Provider, externalID string, durationSeconds int) error {
	ctx, span := tracing.StartSpan(ctx, "InteractionRepository.Complete")
	defer span.End()

	return r.update(ctx, "complete", provider, externalID, func(ub *database.UpdateBuilder) []string {
		return []string{
			ub.Assign("status", models.InteractionCompleted),
			ub.Assign("duration_seconds", durationSeconds),
		}
	})
}

// AppendDescription appends text to the interaction's description
func (r *InteractionRepository) AppendDescription(ctx context.Context, provider models.Provider, externalID, suffix string) error {
	ctx, span := tracing.StartSpan(ctx, "InteractionRepository.AppendDescription")
	defer span.End()

	return r.update(ctx, "annotate", provider, externalID, func(ub *database.UpdateBuilder) []string {
		return []string{
			"description = description || " + ub.Var(suffix),
		}
	})
}

// CountByCustomer counts the customer's interactions (tenant-scoped)
func (r *InteractionRepository) CountByCustomer(ctx context.Context, customerID uuid.UUID) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "InteractionRepository.CountByCustomer")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return 0, err
	}

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(interactionsTable).
		Where(sb.Equal("tenant_id", tenantID), sb.Equal("customer_id", customerID))

	query, args := sb.Build()
	var count int
	if err := r.Conn(ctx).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"customer_id": customerID,
		}).Error("failed to count interactions")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count interactions")
	}
	return count, nil
}
