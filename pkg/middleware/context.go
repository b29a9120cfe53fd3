package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// Context copies request metadata onto the request context so loggers, spans and
// repositories can read it. The tenant and user headers are only trusted when
// authentication is off; otherwise Authentication fills them from the token.
func Context(trustIdentityHeaders bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			// matched route template keeps metric labels bounded
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			ctx = appctx.SetRequestID(ctx, requestID)
			ctx = appctx.SetMethod(appctx.SetRoute(ctx, route), req.Method)
			ctx = appctx.SetRemoteIP(appctx.SetReferer(ctx, req.Referer()), c.RealIP())
			if provider := c.Param("provider"); provider != "" {
				ctx = appctx.SetProvider(ctx, provider)
			}
			if trustIdentityHeaders {
				ctx = appctx.SetTenantID(ctx, req.Header.Get(HeaderTenantID))
				ctx = appctx.SetUserID(ctx, req.Header.Get(HeaderUserID))
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
