package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// ErrorMapper translates a domain error into a status, message and meta.
// It reports false when it does not recognise err.
type ErrorMapper func(err error) (status int, message string, meta map[string]any, ok bool)

// resolve picks the response for err. httperror values win, then echo errors,
// then the first mapper that claims err.
func resolve(err error, mappers []ErrorMapper) (int, string, map[string]any) {
	if httperror.IsHTTPError(err) {
		herr := httperror.ToHTTPError(err)
		return httperror.GetStatusCode(err), herr.Error(), herr.Meta
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, ok := echoErr.Message.(string)
		if !ok {
			msg = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, msg, nil
	}

	for _, mapper := range mappers {
		if status, msg, meta, ok := mapper(err); ok {
			return status, msg, meta
		}
	}
	return http.StatusInternalServerError, "Internal Server Error", nil
}

// Error is the echo error handler. Server errors log at error level, client errors at warn.
func Error(logger ectologger.Logger, mappers ...ErrorMapper) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()

		code, message, meta := resolve(err, mappers)
		if meta == nil {
			meta = map[string]any{}
		}

		entry := logger.WithContext(ctx).WithError(err).WithField("status", code)
		if code >= http.StatusInternalServerError {
			entry.Error("api is returning an error")
		} else {
			entry.Warn("api is returning an error")
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: appctx.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
