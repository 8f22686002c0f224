package jobs

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers job status routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/jobs")

	// Poll a single job's status/progress/result
	g.GET("/:id", h.Get)

	// Queue depths and pool throughput
	g.GET("/metrics", h.Metrics)
}
