// Package health serves the liveness and readiness probes for fern.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const checkTimeout = 5 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// Pinger is anything that can report connectivity.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type check struct {
	name     string
	pinger   Pinger
	critical bool
}

// Checker runs the dependency checks behind the probes. Postgres and Redis are
// critical; optional checks only degrade the status.
type Checker struct {
	checks    []check
	startTime time.Time
	version   string
	mu        sync.RWMutex
	ready     bool
}

func NewChecker(db, redisClient Pinger, version string) *Checker {
	return &Checker{
		checks: []check{
			{name: "database", pinger: db, critical: true},
			{name: "redis", pinger: redisClient, critical: true},
		},
		startTime: time.Now(),
		version:   version,
	}
}

// Optional adds a check whose failure reports degraded instead of unhealthy
func (c *Checker) Optional(name string, pinger Pinger) *Checker {
	c.checks = append(c.checks, check{name: name, pinger: pinger})
	return c
}

func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")
	health.GET("", c.HealthHandler)
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}

// LivenessHandler reports the process is up. It never touches dependencies.
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.response(StatusHealthy, nil))
}

// ReadinessHandler fails until startup completes, then mirrors HealthHandler
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, c.response(StatusUnhealthy, map[string]CheckResult{
			"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
		}))
	}
	return c.HealthHandler(ctx)
}

func (c *Checker) HealthHandler(ctx echo.Context) error {
	results, status := c.run(ctx.Request().Context())
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, c.response(status, results))
}

func (c *Checker) response(status Status, checks map[string]CheckResult) Response {
	return Response{
		Status:     status,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now().UTC(),
	}
}

// run pings every dependency concurrently
func (c *Checker) run(ctx context.Context) (map[string]CheckResult, Status) {
	results := make([]CheckResult, len(c.checks))
	var wg sync.WaitGroup
	for i, chk := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = ping(ctx, chk)
		}()
	}
	wg.Wait()

	status := StatusHealthy
	byName := make(map[string]CheckResult, len(c.checks))
	for i, chk := range c.checks {
		byName[chk.name] = results[i]
		if results[i].Status == StatusHealthy {
			continue
		}
		if chk.critical {
			status = StatusUnhealthy
		} else if status == StatusHealthy {
			status = StatusDegraded
		}
	}
	return byName, status
}

func ping(ctx context.Context, chk check) CheckResult {
	failed := StatusDegraded
	if chk.critical {
		failed = StatusUnhealthy
	}
	if chk.pinger == nil {
		return CheckResult{Status: failed, Message: chk.name + " not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	start := time.Now()
	if err := chk.pinger.PingContext(ctx); err != nil {
		return CheckResult{Status: failed, Message: err.Error(), Latency: time.Since(start).String()}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
}

// Names lists the registered checks
func (c *Checker) Names() []string {
	names := make([]string, 0, len(c.checks))
	for _, chk := range c.checks {
		names = append(names, chk.name)
	}
	sort.Strings(names)
	return names
}
