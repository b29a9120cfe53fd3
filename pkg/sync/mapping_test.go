package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestJiraPriority(t *testing.T) {
	cases := map[string]string{
		"Highest":  models.IssuePriorityHighest,
		"Blocker":  models.IssuePriorityHighest,
		"Critical": models.IssuePriorityHighest,
		"High":     models.IssuePriorityHigh,
		"Major":    models.IssuePriorityHigh,
		"Medium":   models.IssuePriorityMedium,
		"Low":      models.IssuePriorityLow,
		"Minor":    models.IssuePriorityLow,
		"Lowest":   models.IssuePriorityLowest,
		"Trivial":  models.IssuePriorityLowest,
		"":         models.IssuePriorityMedium,
	}
	for name, want := range cases {
		assert.Equal(t, want, JiraPriority(name), name)
	}
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, models.IssueStatusDone, JiraStatus("Resolved"))
	assert.Equal(t, models.IssueStatusInProgress, JiraStatus("Code Review"))
	assert.Equal(t, models.IssueStatusCancelled, JiraStatus("Cancelled"))
	assert.Equal(t, models.IssueStatusTodo, JiraStatus("Backlog"))

	assert.Equal(t, models.IssueStatusDone, LinearState("Completed"))
	assert.Equal(t, models.IssueStatusInProgress, LinearState("In Progress"))
	assert.Equal(t, models.IssueStatusCancelled, LinearState("Duplicate"))
	assert.Equal(t, models.IssueStatusTodo, LinearState("Triage"))
}

func TestTrackedIssue_Linear(t *testing.T) {
	synced := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	issue := TrackedIssue(models.ExternalResource{
		Provider:   models.ProviderLinear,
		ExternalID: "abc",
		Key:        "ENG-12",
		Status:     "In Review",
		Priority:   "urgent",
		Assignee:   "Jo",
		Labels:     []string{"bug"},
	}, synced)

	assert.Equal(t, "linear", issue.Provider)
	assert.Equal(t, models.IssueStatusInProgress, issue.Status)
	assert.Equal(t, "urgent", issue.Priority)
	require.NotNil(t, issue.Assignee)
	assert.Equal(t, "Jo", *issue.Assignee)
	assert.Equal(t, []string{"bug"}, issue.Labels.Data)
	assert.Equal(t, synced, issue.SyncedAt)
}

func TestInteraction_Kinds(t *testing.T) {
	start := time.Date(2024, 6, 5, 15, 0, 0, 0, time.UTC)

	meeting := Interaction(models.ExternalResource{
		Kind: models.ResourceEvent, Provider: models.ProviderCalendar, ExternalID: "evt1",
		Title: "Demo", CreatedAt: &start, Fields: map[string]any{models.FieldLocation: "Room 4"},
	})
	require.NotNil(t, meeting)
	assert.Equal(t, models.InteractionMeeting, meeting.Type)
	assert.Equal(t, models.InteractionScheduled, meeting.Status)
	assert.Equal(t, "Location: Room 4", meeting.Description)
	assert.Equal(t, start, meeting.OccurredAt)

	call := Interaction(models.ExternalResource{
		Kind: models.ResourceCall, Provider: models.ProviderTelephony, ExternalID: "CA1", Status: "ringing",
		Fields: map[string]any{models.FieldDuration: 30, models.FieldRecording: "https://rec/1"},
	})
	require.NotNil(t, call)
	assert.Equal(t, models.InteractionInProgress, call.Status)
	require.NotNil(t, call.DurationSeconds)
	assert.Equal(t, 30, *call.DurationSeconds)
	assert.Equal(t, "Recording: https://rec/1", call.Description)

	assert.Nil(t, Interaction(models.ExternalResource{Kind: models.ResourceMessage}))
}

func TestWindow(t *testing.T) {
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	w := Window(models.ProviderCalendar, now)
	require.NotNil(t, w.Since)
	require.NotNil(t, w.Until)
	assert.Equal(t, now, *w.Since)
	assert.Equal(t, now.Add(90*24*time.Hour), *w.Until)
	assert.Equal(t, 100, w.Limit)

	assert.Equal(t, 50, Window(models.ProviderGmail, now).Limit)
}
