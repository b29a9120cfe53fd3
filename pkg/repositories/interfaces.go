package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Every repository scopes its queries to the tenant carried by ctx unless noted.

// ConfigMutation receives the current config (nil when none exists) and returns the
// value to persist. Returning a nil config leaves the row untouched.
type ConfigMutation func(current *models.IntegrationConfig) (*models.IntegrationConfig, error)

// IntegrationConfigRepo defines the interface for integration config operations
type IntegrationConfigRepo interface {
	Get(ctx context.Context, provider models.Provider) (*models.IntegrationConfig, error)
	List(ctx context.Context) ([]models.IntegrationConfig, error)
	// Mutate runs a read-build-persist cycle under a row lock.
	Mutate(ctx context.Context, provider models.Provider, fn ConfigMutation) (*models.IntegrationConfig, error)
	SoftDelete(ctx context.Context, provider models.Provider) error
	// ListDueForSync spans all tenants.
	ListDueForSync(ctx context.Context, providers []models.Provider, syncedBefore time.Time, limit int) ([]models.IntegrationConfig, error)
}

// InteractionRepo defines the interface for interaction operations
type InteractionRepo interface {
	// Log inserts the interaction unless its external id is already recorded.
	// It reports whether a new row was written and fills interaction from the stored row.
	Log(ctx context.Context, interaction *models.Interaction) (bool, error)
	// Upsert inserts or refreshes a synced interaction.
	Upsert(ctx context.Context, interaction *models.Interaction) (bool, error)
	GetByExternalID(ctx context.Context, provider models.Provider, externalID string) (*models.Interaction, error)
	Complete(ctx context.Context, provider models.Provider, externalID string, durationSeconds int) error
	AppendDescription(ctx context.Context, provider models.Provider, externalID, suffix string) error
	CountByCustomer(ctx context.Context, customerID uuid.UUID) (int, error)
}

// TaskRepo defines the interface for task operations
type TaskRepo interface {
	Create(ctx context.Context, task *models.Task) error
}

// CustomerLookup lists identifiers extracted from an event. Any match wins.
type CustomerLookup struct {
	Emails          []string
	Phones          []string
	TelegramHandles []string
}

// Empty reports whether there is nothing to match on
func (l CustomerLookup) Empty() bool {
	return len(l.Emails) == 0 && len(l.Phones) == 0 && len(l.TelegramHandles) == 0
}

// CustomerRepo defines the interface for customer operations
type CustomerRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	Find(ctx context.Context, lookup CustomerLookup) (*models.Customer, error)
	Create(ctx context.Context, customer *models.Customer) error
	UpdateLead(ctx context.Context, id uuid.UUID, score int, status models.LeadStatus) error
}

// UserRepo defines the interface for user operations
type UserRepo interface {
	FirstByRole(ctx context.Context, role models.UserRole) (*models.User, error)
}

// TrackedIssueRepo defines the interface for tracked issue operations
type TrackedIssueRepo interface {
	Upsert(ctx context.Context, issue *models.TrackedIssue) (bool, error)
	Counts(ctx context.Context) (*models.IssueCounts, error)
}
