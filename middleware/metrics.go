package middleware

import (
	"time"

	"sekolah_absenku/metrics"

	"github.com/gofiber/fiber/v2"
)

// MetricsMiddleware records request counts and latency by route pattern.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		done := metrics.RequestStarted()
		defer done()
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if status < 400 {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		if route == "" || route == "/" {
			route = c.Path()
		}
		metrics.ObserveHTTPRequest(c.Method(), route, status, time.Since(start))
		return err
	}
}
