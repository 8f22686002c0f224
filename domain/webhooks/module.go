package webhooks

import (
	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
)

// Module provides the webhook delivery pipeline
var Module = fx.Module("webhooks",
	fx.Provide(
		NewRepository,
		NewService,
		NewDispatcher,
		NewHandler,
	),
	fx.Invoke(
		RegisterRoutes,
		RegisterHandlers,
	),
)

// RegisterHandlers binds the dispatcher to the webhooks pool
func RegisterHandlers(pools *jobs.Pools, d *Dispatcher) error {
	return pools.Webhooks.Register(jobs.TypeWebhookDelivery, d.HandleDelivery)
}
