package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	customersTable = "customers"
	usersTable     = "users"
)

var (
	customerStruct = database.NewStruct(new(models.Customer))
	userStruct     = database.NewStruct(new(models.User))
)

// CustomerRepository handles database operations for customers
type CustomerRepository struct {
	*Repository
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db database.DB, logger ectologger.Logger) *CustomerRepository {
	return &CustomerRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetByID retrieves a customer by ID (tenant-scoped)
func (r *CustomerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := customerStruct.SelectFrom(customersTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	return r.getOne(ctx, sb, id.String())
}

// Find returns the oldest customer matching any of the identifiers. Emails and
// handles compare case-insensitively; phones compare on digits only.
func (r *CustomerRepository) Find(ctx context.Context, lookup CustomerLookup) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.Find")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	sb := customerStruct.SelectFrom(customersTable)
	var matches []string
	if len(lookup.Emails) > 0 {
		matches = append(matches, sb.In("lower(email)", lowered(lookup.Emails)...))
	}
	phones := ectolinq.Filter(ectolinq.Map(lookup.Phones, digits), func(p string) bool { return p != "" })
	if len(phones) > 0 {
		matches = append(matches, sb.In("regexp_replace(phone, '[^0-9]', '', 'g')", ectolinq.Map(phones, func(p string) any { return p })...))
	}
	if len(lookup.TelegramHandles) > 0 {
		matches = append(matches, sb.In("lower(telegram_handle)", lowered(lookup.TelegramHandles)...))
	}
	if len(matches) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "no customer identifiers")
	}
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Or(matches...))
	sb.OrderBy("created_at").Asc()
	sb.Limit(1)

	return r.getOne(ctx, sb, "lookup")
}

func (r *CustomerRepository) getOne(ctx context.Context, sb *database.SelectBuilder, ref string) (*models.Customer, error) {
	query, args := sb.Build()
	var customer models.Customer
	err := r.Conn(ctx).GetContext(ctx, &customer, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "customer %s does not exist", ref)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get customer")
	}
	return &customer, nil
}

// Create creates a new customer
func (r *CustomerRepository) Create(ctx context.Context, customer *models.Customer) error {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	customer.TenantID = tenantID

	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	if customer.LeadStatus == "" {
		customer.LeadStatus = models.LeadNew
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(customersTable).
		Cols("id", "tenant_id", "first_name", "last_name", "email", "phone", "telegram_handle", "job_title",
			"account_id", "is_lead", "lead_status", "lead_score", "lead_source", "created_at", "updated_at").
		Values(customer.ID, customer.TenantID, customer.FirstName, customer.LastName, customer.Email, customer.Phone,
			customer.TelegramHandle, customer.JobTitle, customer.AccountID, customer.IsLead, customer.LeadStatus,
			customer.LeadScore, customer.LeadSource, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	if err := r.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&customer.CreatedAt, &customer.UpdatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"customer_id": customer.ID,
		}).Error("failed to create customer")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create customer")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"customer_id": customer.ID,
	}).Debugf("Created %s", customersTable)
	return nil
}

// UpdateLead writes a new lead score and status
func (r *CustomerRepository) UpdateLead(ctx context.Context, id uuid.UUID, score int, status models.LeadStatus) error {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.UpdateLead")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(customersTable).
		Set(
			ub.Assign("lead_score", score),
			ub.Assign("lead_status", status),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"customer_id": id,
		}).Error("failed to update lead")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update lead")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "customer %s does not exist", id)
	}
	return nil
}

func lowered(values []string) []any {
	return ectolinq.Map(values, func(v string) any { return strings.ToLower(strings.TrimSpace(v)) })
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UserRepository reads CRM users
type UserRepository struct {
	*Repository
}

// NewUserRepository creates a new user repository
func NewUserRepository(db database.DB, logger ectologger.Logger) *UserRepository {
	return &UserRepository{
		Repository: NewRepository(db, logger),
	}
}

// FirstByRole returns the earliest created user with the role (tenant-scoped)
func (r *UserRepository) FirstByRole(ctx context.Context, role models.UserRole) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.FirstByRole")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := userStruct.SelectFrom(usersTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("role", role))
	sb.OrderBy("created_at").Asc()
	sb.Limit(1)

	query, args := sb.Build()
	var user models.User
	err = r.Conn(ctx).GetContext(ctx, &user, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "no %s user", role)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"role": role,
		}).Error("failed to get user by role")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get user")
	}
	return &user, nil
}
