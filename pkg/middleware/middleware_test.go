package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

const tenant = "5d1c3b8e-8f8a-4d61-9a53-0a3c6b1e2f10"

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

var errBusy = errors.New("busy")

func mapBusy(err error) (int, string, map[string]any, bool) {
	if errors.Is(err, errBusy) {
		return http.StatusConflict, "busy", map[string]any{"reason": "busy"}, true
	}
	return 0, "", nil, false
}

func newEcho(trust bool) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger(), mapBusy)
	e.Use(Context(trust))
	return e
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestContext_TrustsHeadersWhenAuthDisabled(t *testing.T) {
	e := newEcho(true)
	var gotTenant, gotUser, gotRoute, gotProvider string
	e.GET("/webhooks/:provider", func(c echo.Context) error {
		ctx := c.Request().Context()
		gotTenant, gotUser = appctx.GetTenantID(ctx), appctx.GetUserID(ctx)
		gotRoute, gotProvider = appctx.GetRoute(ctx), appctx.GetProvider(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/jira", nil)
	req.Header.Set(HeaderTenantID, tenant)
	req.Header.Set(HeaderUserID, "u-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, tenant, gotTenant)
	assert.Equal(t, "u-1", gotUser)
	assert.Equal(t, "/webhooks/:provider", gotRoute)
	assert.Equal(t, "jira", gotProvider)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestContext_IgnoresHeadersWhenAuthEnabled(t *testing.T) {
	e := newEcho(false)
	var gotTenant string
	e.GET("/x", func(c echo.Context) error {
		gotTenant = appctx.GetTenantID(c.Request().Context())
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderTenantID, tenant)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Empty(t, gotTenant)
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
}

func TestError_Resolution(t *testing.T) {
	e := newEcho(true)
	e.GET("/http", func(echo.Context) error { return httperror.NewHTTPError(http.StatusNotFound, "no such thing") })
	e.GET("/mapped", func(echo.Context) error { return errBusy })
	e.GET("/plain", func(echo.Context) error { return errors.New("boom") })

	cases := []struct {
		path    string
		code    int
		message string
	}{
		{"/http", http.StatusNotFound, "no such thing"},
		{"/mapped", http.StatusConflict, "busy"},
		{"/plain", http.StatusInternalServerError, "Internal Server Error"},
		{"/missing", http.StatusNotFound, "Not Found"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set(echo.HeaderXRequestID, "req-2")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tc.message, body.Message)
			assert.NotNil(t, body.Meta)
		})
	}
}

func TestError_MapperMeta(t *testing.T) {
	e := newEcho(true)
	e.GET("/mapped", func(echo.Context) error { return errBusy })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mapped", nil))
	assert.Equal(t, "busy", decode(t, rec).Meta["reason"])
}

func TestAuthentication(t *testing.T) {
	verify := func(_ context.Context, raw string) (UserClaims, error) {
		switch raw {
		case "good":
			return UserClaims{Sub: "user-1", TenantID: tenant}, nil
		case "role":
			c := UserClaims{Sub: "user-2"}
			c.RealmAccess.Roles = []string{"admin", tenant}
			return c, nil
		case "notenant":
			return UserClaims{Sub: "user-3", TenantID: "acme"}, nil
		}
		return UserClaims{}, errors.New("bad signature")
	}

	e := newEcho(false)
	g := e.Group("", Authentication(testLogger(), verify))
	g.GET("/me", func(c echo.Context) error {
		ctx := c.Request().Context()
		return c.JSON(http.StatusOK, map[string]string{"tenant": appctx.GetTenantID(ctx), "user": appctx.GetUserID(ctx)})
	})

	cases := []struct {
		name   string
		header string
		code   int
		user   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"invalid", "Bearer nope", http.StatusUnauthorized, ""},
		{"claim", "Bearer good", http.StatusOK, "user-1"},
		{"role fallback", "Bearer role", http.StatusOK, "user-2"},
		{"no tenant", "Bearer notenant", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			require.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusOK {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tenant, body["tenant"])
				assert.Equal(t, tc.user, body["user"])
			}
		})
	}
}
