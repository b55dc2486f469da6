// Package health provides liveness, readiness and dependency checks.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusDisabled  Status = "disabled"
)

const probeTimeout = 5 * time.Second

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

// Probe checks one dependency. A failing critical probe makes the service
// unhealthy; any other failing probe only degrades it. A nil Ping reports the
// dependency as disabled.
type Probe struct {
	Name     string
	Ping     func(ctx context.Context) error
	Critical bool
}

type Checker struct {
	probes    []Probe
	version   string
	startedAt time.Time

	mu    sync.RWMutex
	ready bool
}

func NewChecker(version string, probes ...Probe) *Checker {
	return &Checker{
		probes:    probes,
		version:   version,
		startedAt: time.Now(),
	}
}

// SetReady marks the service as ready to receive traffic
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

// Live answers as long as the process can serve requests.
func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.response(StatusHealthy, nil))
}

// Ready refuses traffic until startup completes, then reports dependency health.
func (c *Checker) Ready(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, c.response(StatusUnhealthy, map[string]CheckResult{
			"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
		}))
	}
	return c.Health(ctx)
}

func (c *Checker) Health(ctx echo.Context) error {
	checks := c.Run(ctx.Request().Context())
	status := overall(c.probes, checks)

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, c.response(status, checks))
}

// Run executes every probe concurrently.
func (c *Checker) Run(ctx context.Context) map[string]CheckResult {
	results := make([]CheckResult, len(c.probes))

	var wg sync.WaitGroup
	for i, probe := range c.probes {
		if probe.Ping == nil {
			results[i] = CheckResult{Status: StatusDisabled}
			continue
		}
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			results[i] = run(ctx, probe)
		}(i, probe)
	}
	wg.Wait()

	checks := make(map[string]CheckResult, len(c.probes))
	for i, probe := range c.probes {
		checks[probe.Name] = results[i]
	}
	return checks
}

func run(ctx context.Context, probe Probe) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := probe.Ping(ctx)
	latency := time.Since(start).String()
	if err == nil {
		return CheckResult{Status: StatusHealthy, Latency: latency}
	}

	status := StatusDegraded
	if probe.Critical {
		status = StatusUnhealthy
	}
	return CheckResult{Status: status, Message: err.Error(), Latency: latency}
}

func overall(probes []Probe, checks map[string]CheckResult) Status {
	status := StatusHealthy
	for _, probe := range probes {
		switch checks[probe.Name].Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func (c *Checker) response(status Status, checks map[string]CheckResult) Response {
	return Response{
		Status:     status,
		Version:    c.version,
		Uptime:     time.Since(c.startedAt).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now(),
	}
}

// RegisterRoutes registers health check routes under /api/v1
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")

	health.GET("", c.Health)
	health.GET("/live", c.Live)
	health.GET("/ready", c.Ready)
}
