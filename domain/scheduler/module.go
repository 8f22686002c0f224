package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/domain/dlq"
	"github.com/JulesNsenda/ezsign-sub003/domain/documents"
	"github.com/JulesNsenda/ezsign-sub003/domain/webhooks"
	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/internal/storage"
)

// Module provides the cron scheduler and the maintenance tasks that run
// on it: the daily cleanup enqueue and the stalled-job sweep.
var Module = fx.Module("scheduler",
	fx.Provide(
		NewScheduler,
		NewMaintenanceFromDeps,
		NewStaleSweeperFromDeps,
	),
	fx.Invoke(
		RegisterHandlers,
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// NewMaintenanceFromDeps wires the maintenance tasks against the
// concrete services in the graph
func NewMaintenanceFromDeps(queues *jobs.Queues, store *jobs.Store, dlqService *dlq.Service, webhookRepo *webhooks.Repository, storageService *storage.Service, docRepo *documents.Repository, cfg *config.Config, log *slog.Logger) *Maintenance {
	return NewMaintenance(queues.Maintenance, store, dlqService, webhookRepo, storageService, docRepo, cfg, log)
}

// NewStaleSweeperFromDeps builds the sweeper over every registered queue
func NewStaleSweeperFromDeps(registry *jobs.Registry, cfg *config.Config, log *slog.Logger) *StaleSweeper {
	all := registry.All()
	queues := make([]StalledRecoverer, 0, len(all))
	for _, q := range all {
		queues = append(queues, q)
	}
	lease := time.Duration(cfg.Jobs.LeaseMinutes) * time.Minute
	return NewStaleSweeper(queues, lease, log)
}

// RegisterHandlers binds the cleanup handler to the maintenance pool
func RegisterHandlers(pools *jobs.Pools, m *Maintenance) error {
	return pools.Maintenance.Register(jobs.TypeCleanup, m.HandleCleanup)
}

// RegisterTasks registers the cron entries
func RegisterTasks(s *Scheduler, m *Maintenance, sweeper *StaleSweeper, cfg *config.Config, log *slog.Logger) error {
	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	if err := s.AddCronTask("cleanup", cfg.Scheduler.CleanupSchedule, m.EnqueueCleanup); err != nil {
		return err
	}

	if err := s.AddIntervalTask("stale_sweep", cfg.Scheduler.StaleSweepInterval, sweeper.Run); err != nil {
		return err
	}

	return nil
}

// RegisterSchedulerLifecycle starts and stops the scheduler with the app
func RegisterSchedulerLifecycle(lc fx.Lifecycle, s *Scheduler, cfg *config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}
