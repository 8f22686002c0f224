package dlq

import (
	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
)

// Module provides the dead letter queue: the sink every job queue drains
// into, plus the operator API on top of it.
var Module = fx.Module("dlq",
	fx.Provide(
		NewRepository,
		// The repository doubles as the sink handed to every queue
		func(r *Repository) jobs.DeadLetterSink { return r },
		func(r *Repository) Store { return r },
		NewRegistryEnqueuer,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// NewRegistryEnqueuer adapts the queue registry for dead letter retries
func NewRegistryEnqueuer(registry *jobs.Registry) Enqueuer {
	return &RegistryEnqueuer{Registry: registry}
}
