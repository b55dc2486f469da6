package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, c *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestLive(t *testing.T) {
	c := NewChecker("1.0.0", Probe{Name: "database", Ping: failing("down"), Critical: true})

	code, resp := get(t, c, "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
}

func TestReady_BeforeStartup(t *testing.T) {
	code, resp := get(t, NewChecker("", Probe{Name: "database", Ping: ok, Critical: true}), "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Checks, "startup")
}

func TestReady_DisabledProbe(t *testing.T) {
	c := NewChecker("",
		Probe{Name: "database", Ping: ok, Critical: true},
		Probe{Name: "redis"},
	)
	c.SetReady(true)

	code, resp := get(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, StatusDisabled, resp.Checks["redis"].Status)
	assert.Equal(t, StatusHealthy, resp.Checks["database"].Status)
}

func TestHealth_NonCriticalFailureDegrades(t *testing.T) {
	c := NewChecker("",
		Probe{Name: "database", Ping: ok, Critical: true},
		Probe{Name: "integration_platform", Ping: failing("timeout")},
	)

	code, resp := get(t, c, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "timeout", resp.Checks["integration_platform"].Message)
}

func TestHealth_CriticalFailure(t *testing.T) {
	c := NewChecker("",
		Probe{Name: "database", Ping: ok, Critical: true},
		Probe{Name: "redis", Ping: failing("connection refused"), Critical: true},
		Probe{Name: "integration_platform", Ping: failing("timeout")},
	)

	code, resp := get(t, c, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusUnhealthy, resp.Checks["redis"].Status)
}
