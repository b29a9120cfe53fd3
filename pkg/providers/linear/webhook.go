package linear

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

type webhookPayload struct {
	Action           string `json:"action"`
	Type             string `json:"type"`
	WebhookTimestamp int64  `json:"webhookTimestamp"`
	Data             *struct {
		ID         string `json:"id"`
		Identifier string `json:"identifier"`
		Title      string `json:"title"`
		State      *struct {
			Name string `json:"name"`
		} `json:"state"`
	} `json:"data"`
}

// ParseWebhook reads a Linear Issue webhook. Other entity types are unrecognized.
func (a *Adapter) ParseWebhook(req providers.WebhookRequest) (*models.IntegrationEvent, error) {
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}

	var payload webhookPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, providers.Unrecognized(models.ProviderLinear, "invalid json: %v", err)
	}
	if payload.Type != "Issue" || payload.Data == nil || payload.Data.ID == "" {
		return nil, providers.Unrecognized(models.ProviderLinear, "not an issue event (type %q)", payload.Type)
	}

	timestamp := payload.WebhookTimestamp
	if timestamp == 0 {
		timestamp = req.ReceivedAt.UnixMilli()
	}

	data := map[string]any{
		models.PayloadEvent:     payload.Action,
		models.PayloadIssueKey:  payload.Data.Identifier,
		models.PayloadText:      payload.Data.Title,
		models.PayloadTimestamp: timestamp,
	}
	if payload.Data.State != nil {
		data[models.PayloadStatus] = payload.Data.State.Name
	}

	externalID := fmt.Sprintf("%s:%s:%d", payload.Data.ID, payload.Action, timestamp)
	return providers.NewEvent(req, models.EventIssueUpdated, externalID, data), nil
}
