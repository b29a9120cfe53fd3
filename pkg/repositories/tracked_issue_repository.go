package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const trackedIssuesTable = "tracked_issues"

// TrackedIssueRepository handles database operations for synced issues
type TrackedIssueRepository struct {
	*Repository
}

// NewTrackedIssueRepository creates a new tracked issue repository
func NewTrackedIssueRepository(db database.DB, logger ectologger.Logger) *TrackedIssueRepository {
	return &TrackedIssueRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert stores the issue keyed by (tenant, provider, external id) and reports whether it was new
func (r *TrackedIssueRepository) Upsert(ctx context.Context, issue *models.TrackedIssue) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackedIssueRepository.Upsert")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return false, err
	}
	issue.TenantID = tenantID

	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	if issue.Labels.Data == nil {
		issue.Labels = database.NewJSONB([]string{})
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(trackedIssuesTable).
		Cols("id", "tenant_id", "provider", "external_id", "external_key", "title", "description", "status",
			"priority", "assignee", "labels", "url", "external_updated_at", "synced_at", "created_at", "updated_at").
		Values(issue.ID, issue.TenantID, issue.Provider, issue.ExternalID, issue.ExternalKey, issue.Title,
			issue.Description, issue.Status, issue.Priority, issue.Assignee, issue.Labels, issue.URL,
			issue.ExternalUpdatedAt, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	ub := ib.OnConflict("tenant_id", "provider", "external_id")
	ub.Set(
		ub.Assign("external_key", database.Excluded("external_key")),
		ub.Assign("title", database.Excluded("title")),
		ub.Assign("description", database.Excluded("description")),
		ub.Assign("status", database.Excluded("status")),
		ub.Assign("priority", database.Excluded("priority")),
		ub.Assign("assignee", database.Excluded("assignee")),
		ub.Assign("labels", database.Excluded("labels")),
		ub.Assign("url", database.Excluded("url")),
		ub.Assign("external_updated_at", database.Excluded("external_updated_at")),
		ub.Assign("synced_at", sqlbuilder.Raw("NOW()")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ib.Returning("id", "synced_at", "created_at", "updated_at", "(xmax = 0) AS inserted")

	query, args := ib.Build()
	var inserted bool
	err = r.Conn(ctx).QueryRowContext(ctx, query, args...).
		Scan(&issue.ID, &issue.SyncedAt, &issue.CreatedAt, &issue.UpdatedAt, &inserted)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider":    issue.Provider,
			"external_id": issue.ExternalID,
		}).Error("failed to upsert tracked issue")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert tracked issue")
	}
	return inserted, nil
}

// Counts tallies tracked issues by source (tenant-scoped)
func (r *TrackedIssueRepository) Counts(ctx context.Context) (*models.IssueCounts, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackedIssueRepository.Counts")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select(
		"COUNT(*) AS total",
		sb.As("COUNT(*) FILTER (WHERE provider = "+sb.Var(string(models.ProviderJira))+")", "jira"),
		sb.As("COUNT(*) FILTER (WHERE provider = "+sb.Var(string(models.ProviderLinear))+")", "linear"),
		sb.As("COUNT(*) FILTER (WHERE provider = "+sb.Var(models.IssueSourceInternal)+")", "internal"),
	).From(trackedIssuesTable).Where(sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var counts models.IssueCounts
	if err := r.Conn(ctx).GetContext(ctx, &counts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count tracked issues")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count tracked issues")
	}
	return &counts, nil
}
