// Package telephony adapts Twilio and Vonage voice APIs behind one adapter.
// The vendor is chosen per tenant by the config field "provider".
package telephony

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

const (
	VendorTwilio = "twilio"
	VendorVonage = "vonage"

	TwilioBaseURL = "https://api.twilio.com"
	VonageBaseURL = "https://api.nexmo.com"

	ConnectingMessage = "Connecting your call"
	StatusInitiated   = "initiated"
	DefaultListSize   = 50
)

const twiml = "<Response><Say>" + ConnectingMessage + "</Say></Response>"

type CallRequest struct {
	To         string     `json:"toNumber" validate:"required"`
	From       string     `json:"fromNumber"`
	CustomerID *uuid.UUID `json:"customerId"`
	Record     bool       `json:"recordCall"`
}

type CallResult struct {
	CallID          string     `json:"callId"`
	Status          string     `json:"status"`
	From            string     `json:"fromNumber"`
	To              string     `json:"toNumber"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationSeconds *int       `json:"durationSeconds,omitempty"`
	RecordingURL    string     `json:"recordingUrl,omitempty"`
}

type twilioCall struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	From      string `json:"from"`
	To        string `json:"to"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Duration  string `json:"duration"`
}

func (c twilioCall) toResult() CallResult {
	result := CallResult{
		CallID: c.SID,
		Status: c.Status,
		From:   c.From,
		To:     c.To,
	}
	if t := parseTime(c.StartTime); t != nil {
		result.StartTime = *t
	} else {
		result.StartTime = time.Now().UTC()
	}
	result.EndTime = parseTime(c.EndTime)
	if d, err := strconv.Atoi(c.Duration); err == nil {
		result.DurationSeconds = &d
	}
	return result
}

// Twilio renders times as RFC 1123 with a numeric zone
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

type connection struct {
	vendor      string
	apiKey      string
	apiSecret   string
	accountSID  string
	baseURL     string
	defaultFrom string
}

// basicPassword is the secret half of Twilio basic auth
func (c *connection) basicPassword() string {
	if c.apiSecret != "" {
		return c.apiSecret
	}
	return c.apiKey
}

func (c *connection) twilioURL(path string) string {
	return c.baseURL + "/2010-04-01/Accounts/" + c.accountSID + path
}

type Adapter struct {
	configs providers.ConfigResolver
	client  *resty.Client
	caller  *providers.Caller
	logger  ectologger.Logger
}

func New(configs providers.ConfigResolver, client *resty.Client, limiter providers.Limiter, timeout time.Duration, logger ectologger.Logger) *Adapter {
	return &Adapter{
		configs: configs,
		client:  client,
		caller:  providers.NewCaller(models.ProviderTelephony, limiter, timeout, logger),
		logger:  logger,
	}
}

func (a *Adapter) Provider() models.Provider { return models.ProviderTelephony }

func (a *Adapter) connect(ctx context.Context, tenantID uuid.UUID) (*connection, error) {
	config, err := a.configs.Resolve(ctx, tenantID, models.ProviderTelephony)
	if err != nil {
		return nil, err
	}
	conn := &connection{
		vendor:      strings.ToLower(config.ConfigString("provider")),
		apiKey:      config.Secret("apiKey"),
		apiSecret:   config.Secret("apiSecret"),
		accountSID:  config.Lookup("accountSid"),
		baseURL:     strings.TrimSuffix(config.ConfigString("baseUrl"), "/"),
		defaultFrom: config.ConfigString("defaultFromNumber"),
	}
	if conn.vendor == "" {
		conn.vendor = VendorTwilio
	}

	switch conn.vendor {
	case VendorTwilio:
		if conn.baseURL == "" {
			conn.baseURL = TwilioBaseURL
		}
		if conn.accountSID == "" || conn.basicPassword() == "" {
			return nil, providers.NewError(models.ProviderTelephony, "resolve", providers.ErrNotConfigured, 0, "twilio requires accountSid and apiKey or apiSecret")
		}
	case VendorVonage:
		if conn.baseURL == "" {
			conn.baseURL = VonageBaseURL
		}
		if conn.apiKey == "" {
			return nil, providers.NewError(models.ProviderTelephony, "resolve", providers.ErrNotConfigured, 0, "vonage requires apiKey")
		}
	default:
		return nil, providers.NewError(models.ProviderTelephony, "resolve", providers.ErrNotConfigured, 0, "unsupported telephony provider "+conn.vendor)
	}
	return conn, nil
}

// InitiateCall places an outbound call. The from number falls back to defaultFromNumber.
func (a *Adapter) InitiateCall(ctx context.Context, tenantID uuid.UUID, req CallRequest) (*CallResult, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	from := req.From
	if from == "" {
		from = conn.defaultFrom
	}
	if from == "" {
		return nil, providers.Permanent(models.ProviderTelephony, "initiate_call", "no from number given and no defaultFromNumber configured")
	}
	if req.To == "" {
		return nil, providers.Permanent(models.ProviderTelephony, "initiate_call", "to number is required")
	}

	var result *CallResult
	if conn.vendor == VendorVonage {
		result, err = a.vonageCall(ctx, tenantID, conn, from, req.To)
	} else {
		result, err = a.twilioCall(ctx, tenantID, conn, from, req.To, req.Record)
	}
	if err != nil {
		return nil, err
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"vendor":    conn.vendor,
		"call_id":   result.CallID,
	}).Info("Initiated outbound call")
	return result, nil
}

func (a *Adapter) twilioCall(ctx context.Context, tenantID uuid.UUID, conn *connection, from, to string, record bool) (*CallResult, error) {
	form := map[string]string{
		"To":    to,
		"From":  from,
		"Twiml": twiml,
	}
	if record {
		form["Record"] = "true"
	}

	var out twilioCall
	err := a.caller.Do(ctx, tenantID, "initiate_call", func(ctx context.Context) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetBasicAuth(conn.accountSID, conn.basicPassword()).
			SetFormData(form).
			SetResult(&out).
			Post(conn.twilioURL("/Calls.json"))
		return providers.Check(models.ProviderTelephony, "initiate_call", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return &CallResult{
		CallID:    out.SID,
		Status:    ectolinq.Ternary(out.Status != "", out.Status, StatusInitiated),
		From:      from,
		To:        to,
		StartTime: time.Now().UTC(),
	}, nil
}

type vonageEndpoint struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type vonageAction struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

func (a *Adapter) vonageCall(ctx context.Context, tenantID uuid.UUID, conn *connection, from, to string) (*CallResult, error) {
	body := map[string]any{
		"to":   []vonageEndpoint{{Type: "phone", Number: to}},
		"from": vonageEndpoint{Type: "phone", Number: from},
		"ncco": []vonageAction{{Action: "talk", Text: ConnectingMessage}},
	}

	var out struct {
		UUID   string `json:"uuid"`
		Status string `json:"status"`
	}
	err := a.caller.Do(ctx, tenantID, "initiate_call", func(ctx context.Context) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetAuthToken(conn.apiKey).
			SetBody(body).
			SetResult(&out).
			Post(conn.baseURL + "/v1/calls")
		return providers.Check(models.ProviderTelephony, "initiate_call", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return &CallResult{
		CallID:    out.UUID,
		Status:    ectolinq.Ternary(out.Status != "", out.Status, StatusInitiated),
		From:      from,
		To:        to,
		StartTime: time.Now().UTC(),
	}, nil
}

// GetCall looks up a call's status. Only Twilio supports lookups.
func (a *Adapter) GetCall(ctx context.Context, tenantID uuid.UUID, callID string) (*CallResult, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if conn.vendor != VendorTwilio {
		return nil, providers.Permanent(models.ProviderTelephony, "get_call", "call lookup is only supported for twilio")
	}

	var out twilioCall
	err = a.caller.Do(ctx, tenantID, "get_call", func(ctx context.Context) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetBasicAuth(conn.accountSID, conn.basicPassword()).
			SetPathParam("callSid", callID).
			SetResult(&out).
			Get(conn.twilioURL("/Calls/{callSid}.json"))
		return providers.Check(models.ProviderTelephony, "get_call", resp, err)
	})
	if err != nil {
		return nil, err
	}
	result := out.toResult()
	return &result, nil
}

// ListCalls returns recent calls. Vendors without a list API return nothing.
func (a *Adapter) ListCalls(ctx context.Context, tenantID uuid.UUID, limit int) ([]CallResult, error) {
	conn, err := a.connect(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if conn.vendor != VendorTwilio {
		return []CallResult{}, nil
	}
	if limit <= 0 {
		limit = DefaultListSize
	}

	var out struct {
		Calls []twilioCall `json:"calls"`
	}
	err = a.caller.Do(ctx, tenantID, "list_calls", func(ctx context.Context) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetBasicAuth(conn.accountSID, conn.basicPassword()).
			SetQueryParam("PageSize", strconv.Itoa(limit)).
			SetResult(&out).
			Get(conn.twilioURL("/Calls.json"))
		return providers.Check(models.ProviderTelephony, "list_calls", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return ectolinq.Map(out.Calls, twilioCall.toResult), nil
}

// Resource converts a call to the canonical resource
func Resource(call CallResult) models.ExternalResource {
	start := call.StartTime
	fields := map[string]any{
		models.FieldFrom:  call.From,
		models.FieldTo:    call.To,
		models.FieldStart: start,
	}
	if call.EndTime != nil {
		fields[models.FieldEnd] = *call.EndTime
	}
	if call.DurationSeconds != nil {
		fields[models.FieldDuration] = *call.DurationSeconds
	}
	if call.RecordingURL != "" {
		fields[models.FieldRecording] = call.RecordingURL
	}
	return models.ExternalResource{
		Kind:       models.ResourceCall,
		Provider:   models.ProviderTelephony,
		ExternalID: call.CallID,
		Title:      "Call to " + call.To,
		Status:     call.Status,
		CreatedAt:  &start,
		Fields:     fields,
	}
}

func (a *Adapter) ListResources(ctx context.Context, tenantID uuid.UUID, filter providers.ListFilter) ([]models.ExternalResource, error) {
	calls, err := a.ListCalls(ctx, tenantID, filter.Limit)
	if err != nil {
		return nil, err
	}
	return ectolinq.Map(calls, Resource), nil
}

func (a *Adapter) GetResource(ctx context.Context, tenantID uuid.UUID, externalID string) (*models.ExternalResource, error) {
	call, err := a.GetCall(ctx, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	r := Resource(*call)
	return &r, nil
}

// CreateResource places a call to fields.to
func (a *Adapter) CreateResource(ctx context.Context, tenantID uuid.UUID, req providers.ResourceRequest) (*models.ExternalResource, error) {
	call, err := a.InitiateCall(ctx, tenantID, CallRequest{
		To:     req.Field("to"),
		From:   req.Field("from"),
		Record: req.Field("record") == "true",
	})
	if err != nil {
		return nil, err
	}
	r := Resource(*call)
	return &r, nil
}

func (a *Adapter) UpdateResource(_ context.Context, _ uuid.UUID, _ string, _ providers.ResourceRequest) (*models.ExternalResource, error) {
	return nil, providers.Permanent(models.ProviderTelephony, "update_resource", "calls cannot be updated")
}

var _ providers.Adapter = (*Adapter)(nil)
