package documents

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/domain/email"
	"github.com/JulesNsenda/ezsign-sub003/domain/webhooks"
	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
)

// Module provides documents and the scheduled send pipeline
var Module = fx.Module("documents",
	fx.Provide(
		NewRepository,
		func(r *Repository) Store { return r },
		NewSchedulerFromDeps,
		NewHandler,
	),
	fx.Invoke(
		RegisterRoutes,
		RegisterHandlers,
	),
)

// NewSchedulerFromDeps wires the scheduler against the scheduled queue and
// the webhooks service
func NewSchedulerFromDeps(store Store, queues *jobs.Queues, sender email.Sender, events *webhooks.Service, cfg *config.Config, log *slog.Logger) *Scheduler {
	return NewScheduler(store, queues.Scheduled, sender, events, cfg, log)
}

// RegisterHandlers binds the scheduler to the scheduled pool
func RegisterHandlers(pools *jobs.Pools, s *Scheduler) error {
	return pools.Scheduled.Register(jobs.TypeScheduledSend, s.HandleScheduledSend)
}

var _ EventTrigger = (*webhooks.Service)(nil)
