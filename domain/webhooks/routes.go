package webhooks

import (
	"github.com/labstack/echo/v4"

	"github.com/JulesNsenda/ezsign-sub003/pkg/auth"
)

// RegisterRoutes registers webhook subscription routes. Subscriptions
// carry delivery secrets, so the whole surface is admin-gated.
func RegisterRoutes(e *echo.Echo, h *Handler, admin *auth.Middleware) {
	g := e.Group("/api/webhooks")
	g.Use(admin.RequireAdmin())

	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/deliveries", h.Deliveries)
}
