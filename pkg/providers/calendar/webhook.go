package calendar

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

const (
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
	headerMessageNumber = "X-Goog-Message-Number"
	headerChannelID     = "X-Goog-Channel-ID"
)

// ParseWebhook reads a push notification for a calendar watch channel. The body is empty;
// everything is in the headers.
func (a *Adapter) ParseWebhook(req providers.WebhookRequest) (*models.IntegrationEvent, error) {
	resourceID := req.Headers.Get(headerResourceID)
	state := strings.ToLower(req.Headers.Get(headerResourceState))
	if resourceID == "" {
		return nil, providers.Unrecognized(models.ProviderCalendar, "missing %s header", headerResourceID)
	}
	if state != "sync" && state != "exists" {
		return nil, providers.Unrecognized(models.ProviderCalendar, "unsupported resource state %q", state)
	}

	externalID := resourceID + ":" + state
	if n := req.Headers.Get(headerMessageNumber); n != "" {
		externalID = resourceID + ":" + n
	}

	payload := map[string]any{
		models.PayloadResourceID:    resourceID,
		models.PayloadResourceState: state,
	}
	if channel := req.Headers.Get(headerChannelID); channel != "" {
		payload["channel_id"] = channel
	}
	return providers.NewEvent(req, models.EventCalendarChanged, externalID, payload), nil
}
