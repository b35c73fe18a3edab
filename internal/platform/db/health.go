package db

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// CheckFunc reports whether a storage backend is reachable.
type CheckFunc func(ctx context.Context) error

// HealthHandler returns a handler for the store health check endpoint.
func HealthHandler(backend string, check CheckFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		start := time.Now()
		err := check(ctx)
		latency := time.Since(start).String()

		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "unhealthy",
				"backend": backend,
				"error":   err.Error(),
				"latency": latency,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "healthy",
			"backend": backend,
			"latency": latency,
		})
	}
}
