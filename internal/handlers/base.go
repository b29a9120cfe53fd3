// Package handlers holds the Echo handlers of the integration hub API.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories"
	fernsync "github.com/Ramsey-B/fern/pkg/sync"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// GetTenantID returns the tenant the request was authenticated for.
func GetTenantID(c echo.Context) (uuid.UUID, error) {
	return repositories.GetTenantID(c.Request().Context())
}

func ParseProvider(c echo.Context) (models.Provider, error) {
	raw := c.Param("provider")
	provider, err := models.ParseProvider(raw)
	if err != nil {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown provider %q", raw)
	}
	return provider, nil
}

// QueryInt reads a positive integer query parameter, falling back to def
func QueryInt(c echo.Context, name string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func SuccessResponse(c echo.Context, data any) error { return c.JSON(http.StatusOK, data) }

func CreatedResponse(c echo.Context, data any) error { return c.JSON(http.StatusCreated, data) }

func NoContentResponse(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

// Bind decodes the body into T and runs the validate tags. Validation failures
// list every failing field as "<Field> failed '<tag>'".
func Bind[T any](c echo.Context) (T, error) {
	var req T
	if err := c.Bind(&req); err != nil {
		return req, BadRequest("invalid request body")
	}

	err := validate.Struct(req)
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
		return req, nil
	case errors.As(err, &verrs):
		failed := make([]string, len(verrs))
		for i, fe := range verrs {
			failed[i] = fmt.Sprintf("%s failed '%s'", fe.Field(), fe.Tag())
		}
		return req, BadRequest("validation failed: " + strings.Join(failed, ", "))
	default:
		return req, BadRequest(err.Error())
	}
}

// MapError is the error handler mapper for provider and sync errors
func MapError(err error) (int, string, map[string]any, bool) {
	if errors.Is(err, fernsync.ErrAlreadySyncing) {
		return http.StatusConflict, err.Error(), map[string]any{"reason": "already_syncing"}, true
	}
	status, ok := providers.HTTPStatus(err)
	if !ok {
		return 0, "", nil, false
	}
	return status, err.Error(), map[string]any{"reason": providers.Reason(err)}, true
}
