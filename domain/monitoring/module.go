package monitoring

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/domain/dlq"
	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
)

// Module provides the Prometheus collector and the /metrics endpoint
var Module = fx.Module("monitoring",
	fx.Provide(NewCollectorFromDeps),
	fx.Invoke(
		RegisterRoutes,
		RegisterCollectorLifecycle,
	),
)

// NewCollectorFromDeps wires the collector against the job store, the
// dead letter repository, and the worker pools
func NewCollectorFromDeps(store *jobs.Store, dlqRepo *dlq.Repository, pools *jobs.Pools, registry *jobs.Registry, cfg *config.Config, log *slog.Logger) *Collector {
	all := pools.All()
	samplers := make([]PoolSampler, 0, len(all))
	for _, p := range all {
		samplers = append(samplers, p)
	}
	return NewCollector(store, dlqRepo, samplers, registry.Names(), cfg.Monitoring.RefreshInterval, log)
}

// RegisterRoutes exposes the Prometheus scrape endpoint
func RegisterRoutes(e *echo.Echo, cfg *config.Config) {
	if !cfg.Monitoring.Enabled {
		return
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterCollectorLifecycle starts and stops the collector with the app
func RegisterCollectorLifecycle(lc fx.Lifecycle, c *Collector, cfg *config.Config) {
	if !cfg.Monitoring.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return c.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return c.Stop(ctx)
		},
	})
}
