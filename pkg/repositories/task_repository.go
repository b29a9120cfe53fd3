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

const tasksTable = "tasks"

// TaskRepository handles database operations for tasks
type TaskRepository struct {
	*Repository
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db database.DB, logger ectologger.Logger) *TaskRepository {
	return &TaskRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new task
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	ctx, span := tracing.StartSpan(ctx, "TaskRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	task.TenantID = tenantID

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(tasksTable).
		Cols("id", "tenant_id", "title", "description", "status", "priority", "assigned_to", "customer_id",
			"interaction_id", "due_date", "created_at").
		Values(task.ID, task.TenantID, task.Title, task.Description, task.Status, task.Priority, task.AssignedTo,
			task.CustomerID, task.InteractionID, task.DueDate, sqlbuilder.Raw("NOW()")).
		Returning("created_at")

	query, args := ib.Build()
	if err := r.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&task.CreatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"task_id": task.ID,
		}).Error("failed to create task")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create task")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"task_id": task.ID,
	}).Debugf("Created %s", tasksTable)
	return nil
}
