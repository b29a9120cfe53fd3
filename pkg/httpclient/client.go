// Package httpclient builds the resty clients the provider adapters share.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-resty/resty/v2"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DefaultTimeout is the default request timeout
const DefaultTimeout = 20 * time.Second

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	UserAgent       string
}

// DefaultConfig returns default HTTP client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       "fern/1.0",
	}
}

// New creates a resty client with a pooled transport. Trace context is propagated on
// every request and every response is logged at debug.
func New(cfg Config, logger ectologger.Logger) *resty.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		tracing.InjectHeaders(req.Context(), req.Header)
		return nil
	})

	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		logger.WithContext(resp.Request.Context()).Debugf("HTTP %s %s -> %d (%s)",
			resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time())
		return nil
	})

	return client
}

// IsSuccessStatus returns true if the status code indicates success
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// IsRetryableStatus returns true if the status code indicates a retryable error
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRateLimitStatus returns true if the status code indicates rate limiting
func IsRateLimitStatus(statusCode int) bool {
	return statusCode == 429
}
