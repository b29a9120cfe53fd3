package handlers

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/redis"
)

// DLQHandler exposes the dead letter queue of failed hub jobs
type DLQHandler struct {
	dlq      *redis.DeadLetterQueue
	streams  *redis.Streams
	jobQueue string
	logger   ectologger.Logger
}

func NewDLQHandler(dlq *redis.DeadLetterQueue, streams *redis.Streams, jobQueue string, logger ectologger.Logger) *DLQHandler {
	return &DLQHandler{
		dlq:      dlq,
		streams:  streams,
		jobQueue: jobQueue,
		logger:   logger,
	}
}

type DLQListResponse struct {
	Entries []redis.DLQEntry `json:"entries"`
	Count   int              `json:"count"`
	Total   int64            `json:"total"`
}

func (h *DLQHandler) RegisterRoutes(g *echo.Group) {
	dlq := g.Group("/dlq")
	dlq.GET("", h.List)
	dlq.GET("/stats", h.Stats)
	dlq.GET("/:id", h.Get)
	dlq.POST("/:id/retry", h.Retry)
	dlq.DELETE("/:id", h.Delete)
}

// List handles GET /dlq?count=. Entries are limited to the caller's tenant.
func (h *DLQHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appctx.GetTenantID(ctx)

	entries, err := h.dlq.List(ctx, tenantID, int64(QueryInt(c, "count", 100)))
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list DLQ entries")
		return err
	}
	total, err := h.dlq.Count(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Failed to count DLQ entries")
	}

	return SuccessResponse(c, DLQListResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   total,
	})
}

// Get handles GET /dlq/:id
func (h *DLQHandler) Get(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	return SuccessResponse(c, entry)
}

// Retry handles POST /dlq/:id/retry
func (h *DLQHandler) Retry(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.entry(c); err != nil {
		return err
	}

	entry, err := h.dlq.Retry(ctx, c.Param("id"), h.streams, h.jobQueue)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to retry DLQ entry")
		return dlqError(err)
	}

	return SuccessResponse(c, map[string]string{
		"status":   "retried",
		"job_type": entry.JobType,
	})
}

// Delete handles DELETE /dlq/:id
func (h *DLQHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.entry(c); err != nil {
		return err
	}
	if err := h.dlq.Delete(ctx, c.Param("id")); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to delete DLQ entry")
		return dlqError(err)
	}
	return NoContentResponse(c)
}

// Stats handles GET /dlq/stats
func (h *DLQHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	count, err := h.dlq.Count(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to get DLQ stats")
		return err
	}
	return SuccessResponse(c, map[string]int64{"total_entries": count})
}

// entry loads the addressed entry, hiding other tenants' entries behind a 404
func (h *DLQHandler) entry(c echo.Context) (*redis.DLQEntry, error) {
	ctx := c.Request().Context()
	entry, err := h.dlq.Get(ctx, c.Param("id"))
	if err != nil {
		return nil, dlqError(err)
	}
	if tenantID := appctx.GetTenantID(ctx); tenantID != "" && entry.TenantID != tenantID {
		return nil, dlqError(redis.ErrDLQEntryNotFound)
	}
	return entry, nil
}

func dlqError(err error) error {
	if errors.Is(err, redis.ErrDLQEntryNotFound) {
		return httperror.NewHTTPError(http.StatusNotFound, "DLQ entry not found")
	}
	return err
}
