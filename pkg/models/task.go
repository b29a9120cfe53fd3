package models

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityHigh   TaskPriority = "HIGH"
	PriorityUrgent TaskPriority = "URGENT"
)

type Task struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	TenantID      uuid.UUID    `db:"tenant_id" json:"tenant_id"`
	Title         string       `db:"title" json:"title"`
	Description   string       `db:"description" json:"description"`
	Status        TaskStatus   `db:"status" json:"status"`
	Priority      TaskPriority `db:"priority" json:"priority"`
	AssignedTo    *uuid.UUID   `db:"assigned_to" json:"assigned_to,omitempty"`
	CustomerID    *uuid.UUID   `db:"customer_id" json:"customer_id,omitempty"`
	InteractionID *uuid.UUID   `db:"interaction_id" json:"interaction_id,omitempty"`
	DueDate       *time.Time   `db:"due_date" json:"due_date,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Task) TableName() string {
	return "tasks"
}
