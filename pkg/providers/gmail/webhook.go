package gmail

import (
	"encoding/base64"
	"encoding/json"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

type pushEnvelope struct {
	Message *struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type mailboxNotification struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// ParseWebhook reads a Pub/Sub push for a Gmail watch. The notification only says the
// mailbox changed; the router reacts with a sync.
func (a *Adapter) ParseWebhook(req providers.WebhookRequest) (*models.IntegrationEvent, error) {
	var envelope pushEnvelope
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		return nil, providers.Unrecognized(models.ProviderGmail, "invalid json: %v", err)
	}
	if envelope.Message == nil || envelope.Message.Data == "" {
		return nil, providers.Unrecognized(models.ProviderGmail, "push without message data")
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		if data, err = base64.URLEncoding.DecodeString(envelope.Message.Data); err != nil {
			return nil, providers.Unrecognized(models.ProviderGmail, "message data is not base64")
		}
	}

	var notification mailboxNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		return nil, providers.Unrecognized(models.ProviderGmail, "invalid notification: %v", err)
	}
	if notification.HistoryID == "" {
		return nil, providers.Unrecognized(models.ProviderGmail, "notification without historyId")
	}

	payload := map[string]any{
		models.PayloadEmailAddress: notification.EmailAddress,
		models.PayloadResourceID:   notification.HistoryID.String(),
	}
	return providers.NewEvent(req, models.EventMailboxChanged, notification.HistoryID.String(), payload), nil
}
