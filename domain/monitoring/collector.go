package monitoring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JulesNsenda/ezsign-sub003/domain/dlq"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// QueueStats is the job-store aggregate the collector samples
type QueueStats interface {
	StatsByQueue(ctx context.Context) (map[string]*jobs.Stats, error)
}

// DeadLetterStats is the dead-letter aggregate the collector samples
type DeadLetterStats interface {
	Stats(ctx context.Context) (*dlq.Stats, error)
}

// PoolSampler exposes a worker pool's in-process counters
type PoolSampler interface {
	QueueName() string
	Metrics() jobs.PoolMetrics
}

// Collector periodically refreshes the Prometheus gauges from the job
// store, the dead letter table, and the worker pools.
type Collector struct {
	store      QueueStats
	dlq        DeadLetterStats
	pools      []PoolSampler
	queueNames []string
	interval   time.Duration
	log        *slog.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex
}

// NewCollector creates a collector over the given sources
func NewCollector(store QueueStats, dlqStats DeadLetterStats, pools []PoolSampler, queueNames []string, interval time.Duration, log *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:      store,
		dlq:        dlqStats,
		pools:      pools,
		queueNames: queueNames,
		interval:   interval,
		log:        log.With(logger.Scope("monitoring")),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Start begins the refresh loop
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	c.running = true

	go c.run()
	c.log.Info("metrics collector started", slog.Duration("interval", c.interval))
	return nil
}

// Stop halts the refresh loop
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	close(c.stopCh)
	select {
	case <-c.stoppedCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Collector) run() {
	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample right away instead of one interval in
	c.Refresh(context.Background())

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Refresh(context.Background())
		}
	}
}

// Refresh samples all sources once and updates the gauges
func (c *Collector) Refresh(ctx context.Context) {
	stats, err := c.store.StatsByQueue(ctx)
	if err != nil {
		c.log.Error("failed to sample queue stats", logger.Error(err))
	} else {
		for _, name := range c.queueNames {
			s, ok := stats[name]
			if !ok {
				s = &jobs.Stats{}
			}
			QueueJobs.WithLabelValues(name, string(jobs.StatusWaiting)).Set(float64(s.Waiting))
			QueueJobs.WithLabelValues(name, string(jobs.StatusDelayed)).Set(float64(s.Delayed))
			QueueJobs.WithLabelValues(name, string(jobs.StatusActive)).Set(float64(s.Active))
			QueueJobs.WithLabelValues(name, string(jobs.StatusCompleted)).Set(float64(s.Completed))
			QueueJobs.WithLabelValues(name, string(jobs.StatusFailed)).Set(float64(s.Failed))
		}
	}

	dlStats, err := c.dlq.Stats(ctx)
	if err != nil {
		c.log.Error("failed to sample dead letter stats", logger.Error(err))
	} else {
		for _, name := range c.queueNames {
			DeadLettersPending.WithLabelValues(name).Set(float64(dlStats.ByQueue[name]))
		}
	}

	for _, p := range c.pools {
		m := p.Metrics()
		PoolJobs.WithLabelValues(p.QueueName(), "processed").Set(float64(m.Processed))
		PoolJobs.WithLabelValues(p.QueueName(), "succeeded").Set(float64(m.Succeeded))
		PoolJobs.WithLabelValues(p.QueueName(), "failed").Set(float64(m.Failed))
	}
}
