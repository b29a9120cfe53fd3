package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// IssueSourceInternal marks issues created inside the CRM rather than synced
const IssueSourceInternal = "internal"

// Normalized issue states and priorities shared by Jira and Linear
const (
	IssueStatusTodo       = "todo"
	IssueStatusInProgress = "in_progress"
	IssueStatusDone       = "done"
	IssueStatusCancelled  = "cancelled"

	IssuePriorityHighest = "highest"
	IssuePriorityHigh    = "high"
	IssuePriorityMedium  = "medium"
	IssuePriorityLow     = "low"
	IssuePriorityLowest  = "lowest"
)

// TrackedIssue is the CRM copy of a Jira or Linear issue
type TrackedIssue struct {
	ID                uuid.UUID                `db:"id" json:"id"`
	TenantID          uuid.UUID                `db:"tenant_id" json:"tenant_id"`
	Provider          string                   `db:"provider" json:"provider"`
	ExternalID        string                   `db:"external_id" json:"external_id"`
	ExternalKey       string                   `db:"external_key" json:"external_key"`
	Title             string                   `db:"title" json:"title"`
	Description       string                   `db:"description" json:"description"`
	Status            string                   `db:"status" json:"status"`
	Priority          string                   `db:"priority" json:"priority"`
	Assignee          *string                  `db:"assignee" json:"assignee,omitempty"`
	Labels            database.JSONB[[]string] `db:"labels" json:"labels"`
	URL               string                   `db:"url" json:"url"`
	ExternalUpdatedAt *time.Time               `db:"external_updated_at" json:"external_updated_at,omitempty"`
	SyncedAt          time.Time                `db:"synced_at" json:"synced_at"`
	CreatedAt         time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time                `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (TrackedIssue) TableName() string {
	return "tracked_issues"
}

// IssueCounts summarizes tracked issues per source
type IssueCounts struct {
	Total    int `db:"total" json:"total"`
	Jira     int `db:"jira" json:"jira"`
	Linear   int `db:"linear" json:"linear"`
	Internal int `db:"internal" json:"internal"`
}
