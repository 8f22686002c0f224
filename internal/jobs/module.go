package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/internal/config"
)

// Module provides the job queues, worker pools and job status API.
//
// Domain modules (webhooks, documents, scheduler, ...) register their
// handlers on the pools via fx.Invoke; fx runs every invoke before
// lifecycle OnStart hooks, so pools always start fully wired.
var Module = fx.Module("jobs",
	fx.Provide(
		NewQueues,
		NewPools,
		NewStoreFromParams,
		NewRegistryFromQueues,
		NewHandlerFromPools,
	),
	fx.Invoke(
		RegisterRoutes,
		RegisterPoolLifecycle,
	),
)

// Queues holds every queue in the application
type Queues struct {
	// Documents carries PDF jobs (thumbnails, optimization)
	Documents *Queue
	// Webhooks carries webhook delivery transport jobs
	Webhooks *Queue
	// Scheduled carries future-dated document sends
	Scheduled *Queue
	// Maintenance carries cleanup/retention jobs
	Maintenance *Queue
}

// NewQueues creates the application's queues
func NewQueues(db bun.IDB, cfg *config.Config, sink DeadLetterSink, log *slog.Logger) (*Queues, error) {
	base := time.Duration(cfg.Jobs.BackoffBaseSec) * time.Second

	documents, err := NewQueue(db, QueueConfig{
		Name:               QueueDocuments,
		Types:              []string{TypeGenerateThumbnail, TypeOptimizePDF},
		DefaultMaxAttempts: cfg.Jobs.DefaultMaxAttempts,
		DefaultBackoffBase: base,
		BatchSize:          cfg.Jobs.BatchSize,
	}, sink, log)
	if err != nil {
		return nil, err
	}

	// Delivery retry cadence is owned by the event ladder, not the
	// transport job. Transport attempts only cover infrastructure errors
	// (a failed HTTP delivery completes the transport job after recording
	// the outcome and scheduling its follow-up).
	webhooks, err := NewQueue(db, QueueConfig{
		Name:               QueueWebhooks,
		Types:              []string{TypeWebhookDelivery},
		DefaultMaxAttempts: cfg.Jobs.DefaultMaxAttempts,
		DefaultBackoffBase: base,
		BatchSize:          cfg.Jobs.BatchSize,
	}, sink, log)
	if err != nil {
		return nil, err
	}

	scheduled, err := NewQueue(db, QueueConfig{
		Name:               QueueScheduled,
		Types:              []string{TypeScheduledSend},
		DefaultMaxAttempts: cfg.Jobs.DefaultMaxAttempts,
		DefaultBackoffBase: base,
		BatchSize:          cfg.Jobs.BatchSize,
	}, sink, log)
	if err != nil {
		return nil, err
	}

	maintenance, err := NewQueue(db, QueueConfig{
		Name:               QueueMaintenance,
		Types:              []string{TypeCleanup},
		DefaultMaxAttempts: cfg.Jobs.DefaultMaxAttempts,
		DefaultBackoffBase: base,
		BatchSize:          cfg.Jobs.BatchSize,
	}, sink, log)
	if err != nil {
		return nil, err
	}

	return &Queues{
		Documents:   documents,
		Webhooks:    webhooks,
		Scheduled:   scheduled,
		Maintenance: maintenance,
	}, nil
}

// Pools holds a worker pool per queue
type Pools struct {
	Documents   *Pool
	Webhooks    *Pool
	Scheduled   *Pool
	Maintenance *Pool
}

// NewPools creates the worker pools
func NewPools(queues *Queues, cfg *config.Config, log *slog.Logger) *Pools {
	jobsCfg := PoolConfig{
		PollInterval:          cfg.Jobs.PollInterval(),
		BatchSize:             cfg.Jobs.BatchSize,
		Concurrency:           cfg.Jobs.Concurrency,
		RatePerSecond:         cfg.Jobs.RatePerSecond,
		Lease:                 time.Duration(cfg.Jobs.LeaseMinutes) * time.Minute,
		RecoverStalledOnStart: true,
	}

	webhooksCfg := jobsCfg
	webhooksCfg.Concurrency = cfg.Webhooks.Concurrency
	webhooksCfg.RatePerSecond = cfg.Webhooks.RatePerSecond

	return &Pools{
		Documents:   NewPool(queues.Documents, jobsCfg, log),
		Webhooks:    NewPool(queues.Webhooks, webhooksCfg, log),
		Scheduled:   NewPool(queues.Scheduled, jobsCfg, log),
		Maintenance: NewPool(queues.Maintenance, jobsCfg, log),
	}
}

// All returns every pool
func (p *Pools) All() []*Pool {
	return []*Pool{p.Documents, p.Webhooks, p.Scheduled, p.Maintenance}
}

// NewStoreFromParams creates the shared job store
func NewStoreFromParams(db bun.IDB, log *slog.Logger) *Store {
	return NewStore(db, log)
}

// NewRegistryFromQueues builds the queue registry
func NewRegistryFromQueues(queues *Queues) (*Registry, error) {
	return NewRegistry(queues.Documents, queues.Webhooks, queues.Scheduled, queues.Maintenance)
}

// NewHandlerFromPools creates the job status handler
func NewHandlerFromPools(store *Store, registry *Registry, pools *Pools) *Handler {
	return NewHandler(store, registry, pools.All())
}

// RegisterPoolLifecycle starts and stops every pool with the app
func RegisterPoolLifecycle(lc fx.Lifecycle, pools *Pools) {
	for _, pool := range pools.All() {
		pool := pool
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return pool.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return pool.Stop(ctx)
			},
		})
	}
}
