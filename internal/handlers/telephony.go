package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers/telephony"
)

// CallLogger records outbound calls as CRM interactions
type CallLogger interface {
	LogOutboundCall(ctx context.Context, tenantID uuid.UUID, userID, customerID *uuid.UUID, call *telephony.CallResult) (*models.Interaction, error)
}

type TelephonyHandler struct {
	telephony *telephony.Adapter
	calls     CallLogger
	logger    ectologger.Logger
}

func NewTelephonyHandler(adapter *telephony.Adapter, calls CallLogger, logger ectologger.Logger) *TelephonyHandler {
	return &TelephonyHandler{telephony: adapter, calls: calls, logger: logger}
}

type CallResponse struct {
	*telephony.CallResult
	InteractionID *uuid.UUID `json:"interactionId,omitempty"`
}

func (h *TelephonyHandler) RegisterRoutes(g *echo.Group) {
	t := g.Group("/integrations/telephony")
	t.POST("/call", h.Call)
	t.GET("/calls", h.List)
	t.GET("/calls/:callId", h.Get)
}

// Call handles POST /integrations/telephony/call. The call is placed even if logging
// the interaction fails.
func (h *TelephonyHandler) Call(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	req, err := Bind[telephony.CallRequest](c)
	if err != nil {
		return err
	}

	call, err := h.telephony.InitiateCall(ctx, tenantID, req)
	if err != nil {
		return err
	}

	var userID *uuid.UUID
	if id, err := uuid.Parse(appctx.GetUserID(ctx)); err == nil {
		userID = &id
	}
	resp := CallResponse{CallResult: call}
	interaction, err := h.calls.LogOutboundCall(ctx, tenantID, userID, req.CustomerID, call)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("call_id", call.CallID).Warn("Failed to log outbound call")
	} else {
		resp.InteractionID = &interaction.ID
	}
	return CreatedResponse(c, resp)
}

// Get handles GET /integrations/telephony/calls/:callId
func (h *TelephonyHandler) Get(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	call, err := h.telephony.GetCall(c.Request().Context(), tenantID, c.Param("callId"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, call)
}

// List handles GET /integrations/telephony/calls?limit=
func (h *TelephonyHandler) List(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	calls, err := h.telephony.ListCalls(c.Request().Context(), tenantID, QueryInt(c, "limit", telephony.DefaultListSize))
	if err != nil {
		return err
	}
	return SuccessResponse(c, calls)
}
