package dlq

import (
	"github.com/labstack/echo/v4"

	"github.com/JulesNsenda/ezsign-sub003/pkg/auth"
)

// RegisterRoutes registers dead letter operator routes
func RegisterRoutes(e *echo.Echo, h *Handler, admin *auth.Middleware) {
	// Operator-only surface
	g := e.Group("/api/dlq")
	g.Use(admin.RequireAdmin())

	g.GET("", h.List)
	g.GET("/stats", h.Stats)
	g.GET("/queues", h.Queues)
	g.GET("/:id", h.Get)

	g.POST("/retry-batch", h.RetryBatch)
	g.POST("/discard-batch", h.DiscardBatch)
	g.POST("/cleanup", h.Cleanup)
	g.POST("/:id/retry", h.Retry)
	g.POST("/:id/discard", h.Discard)
}
