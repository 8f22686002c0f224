package documents

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers document routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/documents")

	g.GET("/:id", h.Get)
	g.POST("/:id/schedule", h.Schedule)
	g.DELETE("/:id/schedule", h.CancelSchedule)
}
