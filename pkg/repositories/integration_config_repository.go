package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const integrationConfigsTable = "integration_configs"

var integrationConfigStruct = database.NewStruct(new(models.IntegrationConfig))

// IntegrationConfigRepository handles database operations for integration configs
type IntegrationConfigRepository struct {
	*Repository
}

// NewIntegrationConfigRepository creates a new integration config repository
func NewIntegrationConfigRepository(db database.DB, logger ectologger.Logger) *IntegrationConfigRepository {
	return &IntegrationConfigRepository{
		Repository: NewRepository(db, logger),
	}
}

// Get retrieves the live config for a provider (tenant-scoped)
func (r *IntegrationConfigRepository) Get(ctx context.Context, provider models.Provider) (*models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.Get")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	config, err := r.get(ctx, r.Conn(ctx), tenantID, provider, false)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "%s integration is not configured", provider)
	}
	return config, nil
}

func (r *IntegrationConfigRepository) get(ctx context.Context, q Querier, tenantID uuid.UUID, provider models.Provider, lock bool) (*models.IntegrationConfig, error) {
	sb := integrationConfigStruct.SelectFrom(integrationConfigsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("provider", provider), sb.IsNull("deleted_at"))
	if lock {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var config models.IntegrationConfig
	err := q.GetContext(ctx, &config, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider": provider,
		}).Error("failed to get integration config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get integration config")
	}
	return &config, nil
}

// List retrieves every live config for the current tenant
func (r *IntegrationConfigRepository) List(ctx context.Context) ([]models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := integrationConfigStruct.SelectFrom(integrationConfigsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.IsNull("deleted_at"))
	sb.OrderBy("provider")

	query, args := sb.Build()
	var configs []models.IntegrationConfig
	if err := r.Conn(ctx).SelectContext(ctx, &configs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list integration configs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list integration configs")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"config_count": len(configs),
	}).Debugf("Listed %s", integrationConfigsTable)
	return configs, nil
}

// Mutate locks the live row, hands it to fn and upserts whatever fn returns.
func (r *IntegrationConfigRepository) Mutate(ctx context.Context, provider models.Provider, fn ConfigMutation) (*models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.Mutate")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	var saved *models.IntegrationConfig
	err = database.WithTx(ctx, r.DB(), func(ctx context.Context, tx database.Tx) error {
		current, err := r.get(ctx, tx, tenantID, provider, true)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			saved = current
			return nil
		}

		next.TenantID = tenantID
		next.Provider = provider
		if err := r.upsert(ctx, tx, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *IntegrationConfigRepository) upsert(ctx context.Context, q Querier, config *models.IntegrationConfig) error {
	if config.ID == uuid.Nil {
		config.ID = uuid.New()
	}
	if config.LastSyncStatus == "" {
		config.LastSyncStatus = models.SyncStatusIdle
	}
	if config.Config.Data == nil {
		config.Config = database.NewJSONB(map[string]any{})
	}
	if config.Credentials.Data == nil {
		config.Credentials = database.NewJSONB(map[string]any{})
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(integrationConfigsTable).
		Cols("id", "tenant_id", "provider", "enabled", "config", "credentials",
			"last_sync_at", "last_sync_status", "last_sync_error", "created_at", "updated_at").
		Values(config.ID, config.TenantID, config.Provider, config.Enabled, config.Config, config.Credentials,
			config.LastSyncAt, config.LastSyncStatus, config.LastSyncError, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	ub := ib.OnPartialConflict("deleted_at IS NULL", "tenant_id", "provider")
	ub.Set(
		ub.Assign("enabled", database.Excluded("enabled")),
		ub.Assign("config", database.Excluded("config")),
		ub.Assign("credentials", database.Excluded("credentials")),
		ub.Assign("last_sync_at", database.Excluded("last_sync_at")),
		ub.Assign("last_sync_status", database.Excluded("last_sync_status")),
		ub.Assign("last_sync_error", database.Excluded("last_sync_error")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ib.Returning("id", "created_at", "updated_at")

	query, args := ib.Build()
	err := q.QueryRowContext(ctx, query, args...).Scan(&config.ID, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider": config.Provider,
		}).Error("failed to save integration config")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save integration config")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"config_id": config.ID,
		"provider":  config.Provider,
	}).Debugf("Saved %s", integrationConfigsTable)
	return nil
}

// SoftDelete marks the live config deleted and purges its credentials
func (r *IntegrationConfigRepository) SoftDelete(ctx context.Context, provider models.Provider) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.SoftDelete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(integrationConfigsTable).
		Set(
			ub.Assign("enabled", false),
			ub.Assign("credentials", sqlbuilder.Raw("'{}'::jsonb")),
			ub.Assign("deleted_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("provider", provider), ub.IsNull("deleted_at"))

	query, args := ub.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider": provider,
		}).Error("failed to delete integration config")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete integration config")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete integration config")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "%s integration is not configured", provider)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"provider": provider,
	}).Infof("Deleted %s", integrationConfigsTable)
	return nil
}

// ListDueForSync returns enabled configs across all tenants that have not synced since
// syncedBefore, oldest first. Configs mid-sync are skipped.
func (r *IntegrationConfigRepository) ListDueForSync(ctx context.Context, providers []models.Provider, syncedBefore time.Time, limit int) ([]models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.ListDueForSync")
	defer span.End()

	if len(providers) == 0 {
		return nil, nil
	}

	sb := integrationConfigStruct.SelectFrom(integrationConfigsTable)
	sb.Where(
		sb.IsNull("deleted_at"),
		sb.Equal("enabled", true),
		sb.In("provider", ectolinq.Map(providers, func(p models.Provider) any { return string(p) })...),
		sb.NotEqual("last_sync_status", models.SyncStatusSyncing),
		sb.Or(sb.IsNull("last_sync_at"), sb.LessThan("last_sync_at", syncedBefore)),
	)
	sb.OrderBy("last_sync_at NULLS FIRST")
	sb.Limit(limit)

	query, args := sb.Build()
	var configs []models.IntegrationConfig
	if err := r.DB().SelectContext(ctx, &configs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list configs due for sync")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list configs due for sync")
	}
	return configs, nil
}
