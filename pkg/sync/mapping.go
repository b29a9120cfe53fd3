package sync

import (
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/calendar"
	"github.com/Ramsey-B/fern/pkg/providers/gmail"
	"github.com/Ramsey-B/fern/pkg/providers/jira"
	"github.com/Ramsey-B/fern/pkg/providers/telephony"
)

// Window is the slice of provider data one sync run pulls
func Window(provider models.Provider, now time.Time) providers.ListFilter {
	switch provider {
	case models.ProviderJira:
		return providers.ListFilter{Query: jira.SyncJQL, Limit: 100}
	case models.ProviderLinear:
		return providers.ListFilter{Limit: 100}
	case models.ProviderGmail:
		return providers.ListFilter{Query: gmail.SyncQuery, Limit: gmail.SyncLimit}
	case models.ProviderCalendar:
		until := now.Add(calendar.SyncWindow)
		return providers.ListFilter{Since: &now, Until: &until, Limit: calendar.SyncLimit}
	case models.ProviderTelephony:
		return providers.ListFilter{Limit: telephony.DefaultListSize}
	default:
		return providers.ListFilter{}
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// JiraStatus folds a Jira status name into the normalized issue states
func JiraStatus(name string) string {
	s := strings.ToLower(name)
	switch {
	case containsAny(s, "done", "closed", "resolved"):
		return models.IssueStatusDone
	case containsAny(s, "progress", "review", "development"):
		return models.IssueStatusInProgress
	case strings.Contains(s, "cancel"):
		return models.IssueStatusCancelled
	default:
		return models.IssueStatusTodo
	}
}

// JiraPriority folds a Jira priority name into the normalized priorities. The
// superlatives are checked first so "Highest" is not read as "High".
func JiraPriority(name string) string {
	s := strings.ToLower(name)
	switch {
	case containsAny(s, "highest", "blocker", "critical"):
		return models.IssuePriorityHighest
	case containsAny(s, "lowest", "trivial"):
		return models.IssuePriorityLowest
	case containsAny(s, "high", "major"):
		return models.IssuePriorityHigh
	case containsAny(s, "medium", "normal"):
		return models.IssuePriorityMedium
	case containsAny(s, "low", "minor"):
		return models.IssuePriorityLow
	default:
		return models.IssuePriorityMedium
	}
}

// LinearState folds a Linear workflow state name into the normalized issue states
func LinearState(name string) string {
	s := strings.ToLower(name)
	switch {
	case containsAny(s, "done", "completed", "closed"):
		return models.IssueStatusDone
	case containsAny(s, "progress", "started", "review"):
		return models.IssueStatusInProgress
	case containsAny(s, "cancel", "duplicate"):
		return models.IssueStatusCancelled
	default:
		return models.IssueStatusTodo
	}
}

// TrackedIssue maps a pulled Jira or Linear issue to its CRM row
func TrackedIssue(r models.ExternalResource, syncedAt time.Time) *models.TrackedIssue {
	issue := &models.TrackedIssue{
		Provider:          string(r.Provider),
		ExternalID:        r.ExternalID,
		ExternalKey:       r.Key,
		Title:             r.Title,
		Description:       r.Description,
		Labels:            database.NewJSONB(append([]string{}, r.Labels...)),
		URL:               r.URL,
		ExternalUpdatedAt: r.UpdatedAt,
		SyncedAt:          syncedAt,
	}
	if r.Assignee != "" {
		assignee := r.Assignee
		issue.Assignee = &assignee
	}

	switch r.Provider {
	case models.ProviderJira:
		issue.Status = JiraStatus(r.Status)
		issue.Priority = JiraPriority(r.Priority)
	default:
		issue.Status = LinearState(r.Status)
		issue.Priority = r.Priority
	}
	if issue.Priority == "" {
		issue.Priority = models.IssuePriorityMedium
	}
	return issue
}

// Interaction maps a pulled email, calendar event or call to its CRM row. Other
// kinds return nil.
func Interaction(r models.ExternalResource) *models.Interaction {
	interaction := &models.Interaction{
		Subject:         r.Title,
		Description:     r.Description,
		ExternalID:      r.ExternalID,
		IntegrationType: r.Provider,
	}
	if r.CreatedAt != nil {
		interaction.OccurredAt = *r.CreatedAt
	}

	switch r.Kind {
	case models.ResourceEmail:
		interaction.Type = models.InteractionEmail
		interaction.Status = models.InteractionCompleted
		interaction.Direction = models.DirectionInbound
		if r.Field(models.FieldDirection) == string(models.DirectionOutbound) {
			interaction.Direction = models.DirectionOutbound
		}
	case models.ResourceEvent:
		interaction.Type = models.InteractionMeeting
		interaction.Status = models.InteractionScheduled
		interaction.Direction = models.DirectionOutbound
		if location := r.Field(models.FieldLocation); location != "" && interaction.Description == "" {
			interaction.Description = "Location: " + location
		}
	case models.ResourceCall:
		interaction.Type = models.InteractionCall
		interaction.Direction = models.DirectionOutbound
		interaction.Status = callStatus(r.Status)
		if d, ok := r.Fields[models.FieldDuration].(int); ok {
			interaction.DurationSeconds = &d
		}
		if url := r.Field(models.FieldRecording); url != "" {
			interaction.Description = "Recording: " + url
		}
	default:
		return nil
	}
	return interaction
}

func callStatus(status string) models.InteractionStatus {
	switch strings.ToLower(status) {
	case "queued", "initiated", "ringing", "in-progress", "started", "answered":
		return models.InteractionInProgress
	default:
		return models.InteractionCompleted
	}
}
