package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resumeforge/resumeforge/pkg/version"
)

// healthHandler handles GET /health. Liveness only: no dependency checks, so
// an unhealthy downstream cannot make the orchestrator restart the process.
func (s *Server) healthHandler(c *echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GitCommit,
	})
}

// readyHandler handles GET /ready. Readiness gates traffic on the database
// and the presence of an LLM API key.
func (s *Server) readyHandler(c *echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")

	resp := &ReadyResponse{
		DBOk:     s.db.Health(c.Request().Context()) == nil,
		LLMKeyOk: s.cfg.LLM.APIKey != "",
	}
	resp.Ready = resp.DBOk && resp.LLMKeyOk

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

// metricsHandler handles GET /metrics.
func (s *Server) metricsHandler(c *echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")
	promhttp.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}
