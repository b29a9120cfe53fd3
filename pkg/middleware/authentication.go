package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const verifyTimeout = 5 * time.Second

type UserClaims struct {
	Sub         string `json:"sub"`
	Email       string `json:"email"`
	TenantID    string `json:"tenant_id"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// tenant prefers the explicit tenant_id claim and falls back to the first realm
// role that parses as a tenant id.
func (c UserClaims) tenant() (uuid.UUID, bool) {
	candidates := append([]string{c.TenantID}, c.RealmAccess.Roles...)
	for _, candidate := range candidates {
		if id, err := uuid.Parse(candidate); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

// TokenVerifier verifies a raw bearer token and decodes its claims.
type TokenVerifier func(ctx context.Context, raw string) (UserClaims, error)

// NewOIDCVerifier discovers the issuer and returns a TokenVerifier for clientID.
func NewOIDCVerifier(ctx context.Context, issuer string, clientID string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})

	return func(ctx context.Context, raw string) (UserClaims, error) {
		var claims UserClaims
		idToken, err := verifier.Verify(ctx, raw)
		if err != nil {
			return claims, err
		}
		err = idToken.Claims(&claims)
		return claims, err
	}, nil
}

func Authentication(logger ectologger.Logger, verify TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx, span := tracing.StartSpan(ctx, "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
			defer cancel()

			claims, err := verify(verifyCtx, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			tenantID, ok := claims.tenant()
			if !ok {
				logger.WithContext(ctx).Warn("token carries no tenant")
				return echo.NewHTTPError(http.StatusForbidden, "token carries no tenant")
			}

			ctx = appctx.WithTenant(appctx.SetUserID(ctx, claims.Sub), tenantID)

			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
