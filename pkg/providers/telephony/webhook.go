package telephony

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

// callEvent is the vendor-neutral call callback
type callEvent struct {
	callID       string
	status       string
	from         string
	to           string
	duration     *int
	recordingURL string
}

// eventType maps a callback to its canonical event. A recording callback wins over the
// call status it may carry.
func (e callEvent) eventType() models.EventType {
	status := strings.ToLower(e.status)
	switch {
	case status == "recording.completed" || e.recordingURL != "":
		return models.EventRecordingCompleted
	case status == "completed" || status == "ended":
		return models.EventCallCompleted
	default:
		return models.EventCallStatusChanged
	}
}

// ParseWebhook reads a call callback. The request variant selects the vendor format and
// defaults to twilio.
func (a *Adapter) ParseWebhook(req providers.WebhookRequest) (*models.IntegrationEvent, error) {
	vendor := strings.ToLower(req.Variant)
	if vendor == "" {
		vendor = VendorTwilio
	}

	var (
		event callEvent
		err   error
	)
	switch vendor {
	case VendorTwilio:
		event, err = parseTwilio(req)
	case VendorVonage:
		event, err = parseVonage(req.Body)
	default:
		return nil, providers.Unrecognized(models.ProviderTelephony, "unknown telephony vendor %q", req.Variant)
	}
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		models.PayloadStatus: event.status,
		models.PayloadFrom:   event.from,
		models.PayloadTo:     event.to,
		models.PayloadVendor: vendor,
	}
	if event.duration != nil {
		payload[models.PayloadDuration] = *event.duration
	}
	if event.recordingURL != "" {
		payload[models.PayloadRecordingURL] = event.recordingURL
	}
	return providers.NewEvent(req, event.eventType(), event.callID, payload), nil
}

func parseTwilio(req providers.WebhookRequest) (callEvent, error) {
	form := req.Form
	if form == nil {
		parsed, err := url.ParseQuery(string(req.Body))
		if err != nil {
			return callEvent{}, providers.Unrecognized(models.ProviderTelephony, "invalid form body: %v", err)
		}
		form = parsed
	}
	event := callEvent{
		callID:       form.Get("CallSid"),
		status:       form.Get("CallStatus"),
		from:         form.Get("From"),
		to:           form.Get("To"),
		recordingURL: form.Get("RecordingUrl"),
	}
	if event.callID == "" {
		return callEvent{}, providers.Unrecognized(models.ProviderTelephony, "twilio callback without CallSid")
	}
	if d, err := strconv.Atoi(form.Get("CallDuration")); err == nil {
		event.duration = &d
	}
	return event, nil
}

type vonageCallback struct {
	UUID         string          `json:"uuid"`
	Status       string          `json:"status"`
	From         json.RawMessage `json:"from"`
	To           json.RawMessage `json:"to"`
	Duration     any             `json:"duration"`
	RecordingURL string          `json:"recording_url"`
}

// Vonage sends endpoints as objects on the Voice API and as bare strings on older callbacks
func vonageNumber(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var endpoint struct {
		Number string `json:"number"`
	}
	if err := json.Unmarshal(raw, &endpoint); err == nil {
		return endpoint.Number
	}
	var number string
	if err := json.Unmarshal(raw, &number); err == nil {
		return number
	}
	return ""
}

func parseVonage(body []byte) (callEvent, error) {
	var cb vonageCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return callEvent{}, providers.Unrecognized(models.ProviderTelephony, "invalid json: %v", err)
	}
	if cb.UUID == "" {
		return callEvent{}, providers.Unrecognized(models.ProviderTelephony, "vonage callback without uuid")
	}
	event := callEvent{
		callID:       cb.UUID,
		status:       cb.Status,
		from:         vonageNumber(cb.From),
		to:           vonageNumber(cb.To),
		recordingURL: cb.RecordingURL,
	}
	switch d := cb.Duration.(type) {
	case float64:
		n := int(d)
		event.duration = &n
	case string:
		if n, err := strconv.Atoi(d); err == nil {
			event.duration = &n
		}
	}
	return event, nil
}
