package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

var (
	ErrNotConfigured = errors.New("integration not configured")
	ErrDisabled      = errors.New("integration disabled")
	ErrAuthExpired   = errors.New("provider authorization expired")
	ErrTransient     = errors.New("provider temporarily unavailable")
	ErrPermanent     = errors.New("provider rejected the request")
	ErrNotFound      = errors.New("resource not found")
	ErrUnrecognized  = errors.New("unrecognized webhook payload")
)

// Error is a classified provider failure. Kind is one of the sentinels above.
type Error struct {
	Provider   models.Provider
	Op         string
	Kind       error
	StatusCode int
	Message    string
	RetryAfter time.Duration

	// body is the provider's raw response, kept for logs only
	body string
	err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	return msg
}

// Is matches the error's kind. A not-found error also counts as permanent.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return e.Kind == ErrNotFound && target == ErrPermanent
}

func (e *Error) Unwrap() error { return e.err }

// Body returns the provider response body captured with the error
func (e *Error) Body() string { return e.body }

// NewError builds a classified error
func NewError(provider models.Provider, op string, kind error, status int, message string) *Error {
	return &Error{Provider: provider, Op: op, Kind: kind, StatusCode: status, Message: message}
}

// NotConfigured reports that the tenant has no config for provider
func NotConfigured(provider models.Provider) *Error {
	return NewError(provider, "resolve", ErrNotConfigured, 0, fmt.Sprintf("%s integration is not configured", provider))
}

// Disabled reports that the tenant's config for provider is switched off
func Disabled(provider models.Provider) *Error {
	return NewError(provider, "resolve", ErrDisabled, 0, fmt.Sprintf("%s integration is disabled", provider))
}

// Permanent builds a request error that will not succeed on retry
func Permanent(provider models.Provider, op, message string) *Error {
	return NewError(provider, op, ErrPermanent, 0, message)
}

// Transient wraps a transport failure. Timeouts are reported as such.
func Transient(provider models.Provider, op string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	message := "request failed"
	if errors.Is(err, context.DeadlineExceeded) {
		message = "request timed out"
	}
	e := NewError(provider, op, ErrTransient, 0, message)
	e.err = err
	return e
}

// KindForStatus classifies an HTTP status from a provider
func KindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthExpired
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

// FromStatus builds the error for a non-2xx provider response. The message stays
// provider-agnostic; the body is only kept for logging.
func FromStatus(provider models.Provider, op string, status int, body string) *Error {
	kind := KindForStatus(status)
	var message string
	switch kind {
	case ErrAuthExpired:
		message = fmt.Sprintf("%s credentials were rejected", provider)
	case ErrNotFound:
		message = "resource not found"
	case ErrTransient:
		message = fmt.Sprintf("%s is unavailable", provider)
	default:
		message = fmt.Sprintf("%s rejected the request", provider)
	}
	e := NewError(provider, op, kind, status, message)
	if len(body) > 2048 {
		body = body[:2048]
	}
	e.body = body
	return e
}

// HTTPStatus maps a classified error to the status code the API answers with
func HTTPStatus(err error) (int, bool) {
	switch {
	case err == nil:
		return http.StatusOK, false
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrDisabled):
		return http.StatusPreconditionFailed, true
	case errors.Is(err, ErrAuthExpired):
		return http.StatusUnauthorized, true
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, ErrPermanent):
		return http.StatusBadRequest, true
	case errors.Is(err, ErrTransient):
		return http.StatusBadGateway, true
	case errors.Is(err, ErrUnrecognized):
		return http.StatusBadRequest, true
	default:
		return 0, false
	}
}

// Reason is a short machine-readable label for the error's kind
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermanent):
		return "permanent"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrUnrecognized):
		return "unrecognized"
	default:
		return "internal"
	}
}

// Unrecognized builds the error ParseWebhook returns for payloads it cannot read
func Unrecognized(provider models.Provider, format string, args ...any) error {
	return NewError(provider, "parse_webhook", ErrUnrecognized, 0, fmt.Sprintf(format, args...))
}
