package jira

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

type webhookPayload struct {
	WebhookEvent string `json:"webhookEvent"`
	Timestamp    int64  `json:"timestamp"`
	Issue        *struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  *named `json:"status"`
		} `json:"fields"`
	} `json:"issue"`
}

// ParseWebhook reads a Jira issue webhook. The external id combines the issue key, the
// event name and Jira's timestamp so every delivery of a distinct change is distinct.
func (a *Adapter) ParseWebhook(req providers.WebhookRequest) (*models.IntegrationEvent, error) {
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}

	var payload webhookPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, providers.Unrecognized(models.ProviderJira, "invalid json: %v", err)
	}
	if payload.WebhookEvent == "" || payload.Issue == nil || payload.Issue.Key == "" {
		return nil, providers.Unrecognized(models.ProviderJira, "not an issue event")
	}

	timestamp := payload.Timestamp
	if timestamp == 0 {
		timestamp = req.ReceivedAt.UnixMilli()
	}

	data := map[string]any{
		models.PayloadEvent:     payload.WebhookEvent,
		models.PayloadIssueKey:  payload.Issue.Key,
		models.PayloadText:      payload.Issue.Fields.Summary,
		models.PayloadTimestamp: timestamp,
	}
	if payload.Issue.Fields.Status != nil {
		data[models.PayloadStatus] = payload.Issue.Fields.Status.Name
	}

	externalID := fmt.Sprintf("%s:%s:%d", payload.Issue.Key, payload.WebhookEvent, timestamp)
	return providers.NewEvent(req, models.EventIssueUpdated, externalID, data), nil
}
