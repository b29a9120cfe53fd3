package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
)

// quiet routes are counted but never logged
func quiet(route string) bool {
	return route == "/metrics" || strings.HasPrefix(route, "/api/v1/health")
}

// Logger writes one access log line per request and records the API metrics.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			req, res := c.Request(), c.Response()
			route := c.Path()
			metrics.RecordAPIRequest(req.Method, route, strconv.Itoa(res.Status), elapsed.Seconds())
			if quiet(route) {
				return nil
			}

			ctx := req.Context()
			fields := map[string]any{
				"request_id":    appctx.GetRequestID(ctx),
				"method":        appctx.GetMethod(ctx),
				"route":         route,
				"uri":           req.RequestURI,
				"status":        res.Status,
				"remote_ip":     appctx.GetRemoteIP(ctx),
				"response_time": elapsed.String(),
				"response_size": res.Size,
			}
			if tenant := appctx.GetTenantID(ctx); tenant != "" {
				fields["tenant_id"] = tenant
			}
			if referer := appctx.GetReferer(ctx); referer != "" {
				fields["referer"] = referer
			}
			if provider := appctx.GetProvider(ctx); provider != "" {
				fields["provider"] = provider
			}

			entry := logger.WithContext(ctx).WithFields(fields)
			switch {
			case res.Status >= 500:
				entry.Errorf("%s %s", req.Method, route)
			case res.Status >= 400:
				entry.Warnf("%s %s", req.Method, route)
			default:
				entry.Infof("%s %s", req.Method, route)
			}
			return nil
		}
	}
}
