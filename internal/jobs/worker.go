package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// HandlerFunc executes one job. A nil return marks the job completed; a
// non-nil return routes it through the retry policy. Wrap the error with
// Permanent to skip remaining retries.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// PoolConfig contains configuration for a worker pool
type PoolConfig struct {
	// PollInterval is how often to poll for new jobs (default: 1s)
	PollInterval time.Duration
	// BatchSize is the number of jobs to dequeue per poll (default: 10)
	BatchSize int
	// Concurrency is the max number of jobs in flight at once (default: 5)
	Concurrency int
	// RatePerSecond caps how many jobs may START per second, on top of the
	// concurrency cap. Zero disables rate limiting.
	RatePerSecond int
	// Lease is how long a job can be active before the stale sweep
	// reclaims it (default: 10m)
	Lease time.Duration
	// RecoverStalledOnStart runs a stale sweep before the first poll
	RecoverStalledOnStart bool
}

// workQueue is the queue surface the pool consumes
type workQueue interface {
	Name() string
	Types() []string
	Accepts(jobType string) bool
	Dequeue(ctx context.Context, batchSize int) ([]*Job, error)
	MarkCompleted(ctx context.Context, id string, result any) error
	MarkFailed(ctx context.Context, job *Job, jobErr error) error
	RecoverStalled(ctx context.Context, lease time.Duration) (int, error)
}

// Pool is a polling worker pool over one queue.
//
// Each poll dequeues a batch and runs each job in its own goroutine, gated
// by a weighted semaphore (concurrency) and a token-bucket limiter (rate).
// Handler panics are recovered and treated as job failures, so one bad
// payload never takes the pool down.
type Pool struct {
	queue    workQueue
	cfg      PoolConfig
	log      *slog.Logger
	handlers map[string]HandlerFunc

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	stopCh    chan struct{}
	stoppedCh chan struct{}
	cancel    context.CancelFunc
	running   bool
	mu        sync.Mutex
	wg        sync.WaitGroup

	// Metrics
	processedCount int64
	successCount   int64
	failureCount   int64
	metricsMu      sync.RWMutex
}

// NewPool creates a worker pool for the given queue
func NewPool(queue *Queue, cfg PoolConfig, log *slog.Logger) *Pool {
	return newPool(queue, cfg, log)
}

func newPool(queue workQueue, cfg PoolConfig, log *slog.Logger) *Pool {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}
	if cfg.Lease == 0 {
		cfg.Lease = 10 * time.Minute
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond)
	}

	return &Pool{
		queue:     queue,
		cfg:       cfg,
		log:       log.With(slog.String("pool", queue.Name())),
		handlers:  make(map[string]HandlerFunc),
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter:   limiter,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Register binds a handler to a job type. Registering the same type twice
// is a wiring bug and fails loudly.
func (p *Pool) Register(jobType string, h HandlerFunc) error {
	if !p.queue.Accepts(jobType) {
		return fmt.Errorf("queue %q does not declare job type %q", p.queue.Name(), jobType)
	}
	if _, dup := p.handlers[jobType]; dup {
		return fmt.Errorf("handler for %q already registered", jobType)
	}
	p.handlers[jobType] = h
	return nil
}

// Start begins the pool's polling loop. Every job type the queue declares
// must have a handler; a missing one means jobs would be dequeued and
// burned through their attempts with nothing to run them.
func (p *Pool) Start(ctx context.Context) error {
	for _, t := range p.queue.Types() {
		if _, ok := p.handlers[t]; !ok {
			return fmt.Errorf("queue %q declares job type %q but no handler is registered", p.queue.Name(), t)
		}
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	// ctx only covers startup (fx cancels it once the app is up). The
	// polling loop runs on a pool-owned context released in Stop.
	runCtx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.stopCh = make(chan struct{})
	p.stoppedCh = make(chan struct{})
	p.mu.Unlock()

	p.log.Info("worker pool starting",
		slog.Duration("poll_interval", p.cfg.PollInterval),
		slog.Int("batch_size", p.cfg.BatchSize),
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Int("rate_per_second", p.cfg.RatePerSecond))

	if p.cfg.RecoverStalledOnStart {
		if _, err := p.queue.RecoverStalled(ctx, p.cfg.Lease); err != nil {
			p.log.Warn("stalled job recovery on start failed", slog.String("error", err.Error()))
		}
	}

	p.wg.Add(1)
	go p.run(runCtx)

	return nil
}

// Stop gracefully stops the pool, waiting for in-flight jobs to complete
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.log.Debug("waiting for worker pool to stop...")

	select {
	case <-p.stoppedCh:
		p.log.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.log.Warn("worker pool stop timeout, cancelling in-flight jobs")
	}
	p.cancel()

	return nil
}

// run is the main polling loop
func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx, &inflight); err != nil {
				p.log.Warn("poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// pollOnce dequeues one batch and fans the jobs out to goroutines
func (p *Pool) pollOnce(ctx context.Context, inflight *sync.WaitGroup) error {
	select {
	case <-p.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	batch, err := p.queue.Dequeue(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, job := range batch {
		// The rate limiter gates job STARTS. A claimed job is already
		// active, so waiting here delays it rather than losing it.
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				p.failJob(ctx, job, err)
				continue
			}
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.failJob(ctx, job, err)
			continue
		}

		inflight.Add(1)
		go func(job *Job) {
			defer inflight.Done()
			defer p.sem.Release(1)
			p.runJob(ctx, job)
		}(job)
	}

	return nil
}

// runJob executes one job's handler and records the outcome
func (p *Pool) runJob(ctx context.Context, job *Job) {
	start := time.Now()

	result, err := p.invoke(ctx, job)
	if err != nil {
		p.failJob(ctx, job, err)
		return
	}

	if err := p.queue.MarkCompleted(ctx, job.ID, result); err != nil {
		p.log.Error("mark completed failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}

	p.incrementSuccess()
	p.log.Debug("job completed",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Duration("duration", time.Since(start)))
}

// invoke calls the handler with panic recovery
func (p *Pool) invoke(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()

	h, ok := p.handlers[job.Type]
	if !ok {
		// Unreachable when the pool started via Start; guards direct runJob use in tests
		return nil, Permanent(fmt.Errorf("no handler for job type %q", job.Type))
	}

	return h(ctx, job)
}

func (p *Pool) failJob(ctx context.Context, job *Job, jobErr error) {
	p.incrementFailure()
	if err := p.queue.MarkFailed(ctx, job, jobErr); err != nil {
		p.log.Error("mark failed errored",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	}
}

// QueueName returns the name of the queue this pool serves
func (p *Pool) QueueName() string {
	return p.queue.Name()
}

// Metrics returns current pool metrics
func (p *Pool) Metrics() PoolMetrics {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()

	return PoolMetrics{
		Processed: p.processedCount,
		Succeeded: p.successCount,
		Failed:    p.failureCount,
	}
}

func (p *Pool) incrementSuccess() {
	p.metricsMu.Lock()
	p.processedCount++
	p.successCount++
	p.metricsMu.Unlock()
}

func (p *Pool) incrementFailure() {
	p.metricsMu.Lock()
	p.processedCount++
	p.failureCount++
	p.metricsMu.Unlock()
}

// IsRunning returns whether the pool is currently running
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PoolMetrics contains pool metrics
type PoolMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}
