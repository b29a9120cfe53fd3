// Package repositories holds the tenant-scoped Postgres stores for fern's
// integration configs, interactions, tracked issues and CRM records.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
)

func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

func IsNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}

func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

// Querier is what a repository needs from either the pool or an open transaction
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Repository is embedded by every table repository.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) DB() database.DB { return r.db }

// Conn joins the transaction on ctx when database.WithTx opened one.
func (r *Repository) Conn(ctx context.Context) Querier {
	tx, ok := database.TxFromContext(ctx)
	if !ok {
		return r.db
	}
	return tx
}

// GetTenantID reads the tenant every query is scoped by. Handlers and webhook
// jobs put it on ctx; a missing or malformed value is treated as unauthenticated.
func GetTenantID(ctx context.Context) (uuid.UUID, error) {
	raw := appctx.GetTenantID(ctx)
	if raw == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "tenant required")
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, fmt.Sprintf("invalid tenant id %q", raw))
	}
	return tenantID, nil
}
