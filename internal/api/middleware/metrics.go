// Package middleware provides Echo middleware for restock-sentinel.
package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mgrabowski/restock-sentinel/internal/metrics"
)

// metricsSkipPaths defines URL paths excluded from HTTP request metrics.
// These high-frequency operational endpoints (probes, scrapes) would
// otherwise create metric noise without actionable insight.
var metricsSkipPaths = map[string]struct{}{
	"/metrics": {},
	"/healthz": {},
	"/readyz":  {},
}

// healthGauges maps probe paths to their 0/1 Prometheus gauge.
var healthGauges = map[string]prometheus.Gauge{
	"/healthz": metrics.HealthzUp,
	"/readyz":  metrics.ReadyzUp,
}

// Metrics returns Echo middleware that records request duration, status, and
// in-flight count. Operational paths (/metrics, /healthz, /readyz) skip the
// histogram and counter; probe paths update their up/down gauge instead.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Prefer the registered route so path labels stay low-cardinality.
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}

			if _, skip := metricsSkipPaths[path]; skip {
				err := next(c)
				if gauge, ok := healthGauges[path]; ok {
					gauge.Set(boolToGauge(c.Response().Status < 300))
				}
				return err
			}

			metrics.HTTPInFlight.Inc()
			start := time.Now()

			err := next(c)

			metrics.HTTPInFlight.Dec()

			status := strconv.Itoa(c.Response().Status)
			method := c.Request().Method

			metrics.HTTPRequestDuration.
				WithLabelValues(method, path, status).
				Observe(time.Since(start).Seconds())
			metrics.HTTPRequestsTotal.
				WithLabelValues(method, path, status).
				Inc()

			return err
		}
	}
}

func boolToGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
