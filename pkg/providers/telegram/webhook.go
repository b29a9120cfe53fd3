package telegram

import (
	"encoding/json"
	"strconv"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

// ParseWebhook reads a bot Update. Only updates carrying a message are recognized.
func (a *Adapter) ParseWebhook(req providers.WebhookRequest) (*models.IntegrationEvent, error) {
	var update updateDTO
	if err := json.Unmarshal(req.Body, &update); err != nil {
		return nil, providers.Unrecognized(models.ProviderTelegram, "invalid json: %v", err)
	}
	if update.UpdateID == nil || update.Message == nil {
		return nil, providers.Unrecognized(models.ProviderTelegram, "update has no message")
	}

	msg := update.Message.toMessage()
	payload := map[string]any{
		models.PayloadText:   msg.Text,
		models.PayloadChatID: msg.ChatID,
		models.PayloadDate:   msg.Date,
	}
	if msg.FromID != 0 {
		payload[models.PayloadFromID] = msg.FromID
	}
	if msg.FromUsername != "" {
		payload[models.PayloadFromUsername] = msg.FromUsername
	}
	if msg.FromFirstName != "" {
		payload[models.PayloadFromFirstName] = msg.FromFirstName
	}

	return providers.NewEvent(req, models.EventMessageReceived, externalID(msg), payload), nil
}

// externalID is chat:message since message ids are only unique within a chat
func externalID(msg *Message) string {
	return strconv.FormatInt(msg.ChatID, 10) + ":" + strconv.FormatInt(msg.MessageID, 10)
}
