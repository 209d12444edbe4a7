package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/resumeforge/resumeforge/pkg/metrics"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

const requestIDKey = "request_id"

// requestIDPattern validates client-supplied X-Request-ID values. Anything
// else is replaced with a server-generated id.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// requestID assigns each request an id, echoes it on the response, and makes
// a request-scoped logger available to handlers.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get("X-Request-ID")
			if !requestIDPattern.MatchString(id) {
				id = uuid.New().String()
			}
			c.Response().Header().Set("X-Request-ID", id)
			c.Set(requestIDKey, id)
			return next(c)
		}
	}
}

// requestLogger returns a logger carrying the request id.
func requestLogger(c *echo.Context) *slog.Logger {
	id, _ := c.Get(requestIDKey).(string)
	return slog.With("request_id", id)
}

// requestMetrics records the per-request counter and latency histogram for
// one registered route. The status for failed handlers comes from the HTTP
// error before the central error handler renders it.
func requestMetrics(route string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			if status == 0 {
				status = http.StatusOK
			}

			metrics.HTTPRequests.WithLabelValues(
				c.Request().Method, route, statusClass(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
