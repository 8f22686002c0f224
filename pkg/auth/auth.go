// Package auth provides the API-key middleware guarding operator endpoints.
//
// The full multi-tenant authentication stack lives in the main application;
// this layer only needs an admin gate for the DLQ and webhook management
// surfaces, driven by a static key (X-Admin-Key header).
package auth

import (
	"crypto/subtle"
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/pkg/apperror"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

var Module = fx.Module("auth",
	fx.Provide(NewMiddleware),
)

// Middleware guards admin-only routes with a static API key.
type Middleware struct {
	key []byte
	log *slog.Logger
}

// NewMiddleware creates the auth middleware from config
func NewMiddleware(cfg *config.Config, log *slog.Logger) *Middleware {
	return &Middleware{
		key: []byte(cfg.Admin.APIKey),
		log: log.With(logger.Scope("auth")),
	}
}

// RequireAdmin rejects requests that do not carry the configured admin key.
// When no key is configured the admin surface is disabled entirely.
func (m *Middleware) RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(m.key) == 0 {
				return apperror.ErrForbidden.WithMessage("admin API is not enabled")
			}

			provided := c.Request().Header.Get("X-Admin-Key")
			if subtle.ConstantTimeCompare([]byte(provided), m.key) != 1 {
				m.log.Warn("admin auth rejected",
					slog.String("path", c.Request().URL.Path),
					slog.String("ip", c.RealIP()))
				return apperror.ErrUnauthorized
			}

			return next(c)
		}
	}
}
