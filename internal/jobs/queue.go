// Package jobs provides the PostgreSQL-backed job queue used by every
// asynchronous pipeline in the application:
// - Atomic dequeue with FOR UPDATE SKIP LOCKED
// - Per-job retry policy with exponential or fixed backoff
// - Unconditional dead-letter promotion once attempts are exhausted
// - Stalled job recovery (lease-based)
// - Deduplicated enqueue for re-schedulable work
// - Queue statistics
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// DeadLetterSink receives jobs that exhausted their retries. Promotion is a
// property of MarkFailed itself, not of any event listener, so a job can
// never terminally fail without leaving a dead-letter record.
type DeadLetterSink interface {
	Move(ctx context.Context, job *Job, errMsg string) error
}

// QueueConfig contains configuration for one named queue
type QueueConfig struct {
	// Name is the queue name (e.g. "webhooks")
	Name string
	// Types is the set of job types this queue accepts. Enqueueing any
	// other type is an error at the call site, not at execution time.
	Types []string
	// DefaultMaxAttempts applies when EnqueueOptions does not set one (default: 3)
	DefaultMaxAttempts int
	// DefaultBackoffBase is the base delay for exponential backoff (default: 60s)
	DefaultBackoffBase time.Duration
	// BatchSize is the default number of jobs to dequeue at once (default: 10)
	BatchSize int
}

// Queue is a typed producer/consumer handle bound to one named queue.
// All mutation of job rows goes through here.
type Queue struct {
	db    bun.IDB
	cfg   QueueConfig
	types map[string]struct{}
	sink  DeadLetterSink
	log   *slog.Logger
}

// NewQueue creates a queue handle. The sink may be nil in tests; in the
// wired application it is always the DLQ repository.
func NewQueue(db bun.IDB, cfg QueueConfig, sink DeadLetterSink, log *slog.Logger) (*Queue, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if len(cfg.Types) == 0 {
		return nil, fmt.Errorf("queue %q declares no job types", cfg.Name)
	}
	if cfg.DefaultMaxAttempts == 0 {
		cfg.DefaultMaxAttempts = 3
	}
	if cfg.DefaultBackoffBase == 0 {
		cfg.DefaultBackoffBase = 60 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	types := make(map[string]struct{}, len(cfg.Types))
	for _, t := range cfg.Types {
		if t == "" {
			return nil, fmt.Errorf("queue %q declares a blank job type", cfg.Name)
		}
		types[t] = struct{}{}
	}

	return &Queue{
		db:    db,
		cfg:   cfg,
		types: types,
		sink:  sink,
		log:   log.With(logger.Scope("jobs."+cfg.Name)),
	}, nil
}

// Name returns the queue name
func (q *Queue) Name() string { return q.cfg.Name }

// Types returns the job types this queue accepts
func (q *Queue) Types() []string { return q.cfg.Types }

// Accepts reports whether jobType is declared on this queue
func (q *Queue) Accepts(jobType string) bool {
	_, ok := q.types[jobType]
	return ok
}

// EnqueueOptions contains options for enqueuing a job
type EnqueueOptions struct {
	// Priority orders dequeue within the queue (higher first)
	Priority int
	// Delay defers the first attempt (status starts as delayed)
	Delay time.Duration
	// MaxAttempts overrides the queue default
	MaxAttempts int
	// BackoffKind selects the retry policy (default exponential)
	BackoffKind BackoffKind
	// BackoffBase overrides the queue's base retry delay
	BackoffBase time.Duration
	// DedupeKey makes the enqueue idempotent: a waiting/delayed job with
	// the same key on this queue is replaced instead of duplicated.
	DedupeKey string
}

// Enqueue inserts a job row ready for processing. Failures surface
// synchronously to the caller; whether they propagate further is the
// caller's policy (webhook triggering swallows them, document operations
// may not).
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts EnqueueOptions) (*Job, error) {
	if !q.Accepts(jobType) {
		return nil, fmt.Errorf("queue %q does not accept job type %q", q.cfg.Name, jobType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.DefaultMaxAttempts
	}
	kind := opts.BackoffKind
	if kind == "" {
		kind = BackoffExponential
	}
	base := opts.BackoffBase
	if base <= 0 {
		base = q.cfg.DefaultBackoffBase
	}

	status := StatusWaiting
	if opts.Delay > 0 {
		status = StatusDelayed
	}

	var dedupeKey *string
	if opts.DedupeKey != "" {
		dedupeKey = &opts.DedupeKey
	}

	job := &Job{}

	// Uses PostgreSQL now() so run_at is consistent with the dequeue
	// clock. The partial unique index on (queue_name, dedupe_key) makes
	// re-scheduling replace the pending job rather than duplicate it.
	err = q.db.NewRaw(`INSERT INTO ez.jobs (
		queue_name, job_type, payload, attempts, max_attempts,
		backoff_kind, backoff_base_sec, priority, status, dedupe_key, run_at
	) VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, now() + (? || ' seconds')::interval)
	ON CONFLICT (queue_name, dedupe_key) WHERE status IN ('waiting','delayed')
	DO UPDATE SET
		job_type = EXCLUDED.job_type,
		payload = EXCLUDED.payload,
		attempts = 0,
		max_attempts = EXCLUDED.max_attempts,
		backoff_kind = EXCLUDED.backoff_kind,
		backoff_base_sec = EXCLUDED.backoff_base_sec,
		priority = EXCLUDED.priority,
		status = EXCLUDED.status,
		run_at = EXCLUDED.run_at,
		last_error = NULL
	RETURNING *`,
		q.cfg.Name, jobType, string(body), maxAttempts,
		string(kind), int(base/time.Second), opts.Priority, string(status),
		dedupeKey, int(opts.Delay/time.Second),
	).Scan(ctx, job)

	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}

	q.log.Debug("enqueued job",
		slog.String("job_id", job.ID),
		slog.String("job_type", jobType),
		slog.Duration("delay", opts.Delay))

	return job, nil
}

// CancelByDedupeKey deletes the pending job identified by a dedupe key.
// Only waiting or delayed rows are removed; a job that is already active
// or finished is left alone. Returns true when a row was deleted.
func (q *Queue) CancelByDedupeKey(ctx context.Context, dedupeKey string) (bool, error) {
	res, err := q.db.NewRaw(`DELETE FROM ez.jobs
		WHERE queue_name = ?
			AND dedupe_key = ?
			AND status IN ('waiting','delayed')`,
		q.cfg.Name, dedupeKey).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("cancel job by dedupe key: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		q.log.Debug("cancelled pending job",
			slog.String("dedupe_key", dedupeKey),
			slog.Int64("rows", n))
	}
	return n > 0, nil
}

// Dequeue atomically claims jobs for processing.
//
// Uses PostgreSQL's FOR UPDATE SKIP LOCKED so concurrent pools (multiple
// processes against the same queue) never claim the same row. Claiming
// moves the job to active and counts the attempt.
func (q *Queue) Dequeue(ctx context.Context, batchSize int) ([]*Job, error) {
	if batchSize <= 0 {
		batchSize = q.cfg.BatchSize
	}

	var claimed []*Job

	err := q.db.NewRaw(`WITH cte AS (
		SELECT id FROM ez.jobs
		WHERE queue_name = ?
			AND status IN ('waiting','delayed')
			AND (run_at IS NULL OR run_at <= now())
		ORDER BY priority DESC, COALESCE(run_at, created_at) ASC
		FOR UPDATE SKIP LOCKED
		LIMIT ?
	)
	UPDATE ez.jobs j
	SET status = 'active',
		attempts = attempts + 1,
		started_at = now()
	FROM cte WHERE j.id = cte.id
	RETURNING j.*`, q.cfg.Name, batchSize).Scan(ctx, &claimed)
	if err != nil {
		return nil, fmt.Errorf("dequeue jobs: %w", err)
	}

	return claimed, nil
}

// MarkCompleted records a successful run and its result
func (q *Queue) MarkCompleted(ctx context.Context, id string, result any) error {
	var resultJSON *string
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		s := string(b)
		resultJSON = &s
	}

	_, err := q.db.NewRaw(`UPDATE ez.jobs
		SET status = 'completed',
			progress = 100,
			finished_at = now(),
			result = ?::jsonb,
			last_error = NULL
		WHERE id = ?`, resultJSON, id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	return nil
}

// UpdateProgress records handler progress (0-100) for polled jobs
func (q *Queue) UpdateProgress(ctx context.Context, id string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	_, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("progress = ?", pct).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	return nil
}

// MarkFailed applies the retry policy to a failed attempt.
//
// If the job still has attempts left (and the error is not Permanent), it is
// requeued as delayed with the job's backoff. Otherwise it terminally fails
// and is handed to the dead letter sink in the same call, so promotion cannot
// be skipped by a missing listener.
func (q *Queue) MarkFailed(ctx context.Context, job *Job, jobErr error) error {
	errMsg := truncateError(jobErr.Error())

	if !IsPermanent(jobErr) && job.Attempts < job.MaxAttempts {
		delay := job.backoff().Delay(job.Attempts)

		_, err := q.db.NewRaw(`UPDATE ez.jobs
			SET status = 'delayed',
				last_error = ?,
				run_at = now() + (? || ' seconds')::interval
			WHERE id = ?`,
			errMsg, int(delay/time.Second), job.ID).Exec(ctx)
		if err != nil {
			return fmt.Errorf("requeue failed job: %w", err)
		}

		q.log.Warn("job failed, retrying",
			slog.String("job_id", job.ID),
			slog.String("job_type", job.Type),
			slog.Int("attempt", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Duration("retry_delay", delay),
			slog.String("error", errMsg))

		return nil
	}

	_, err := q.db.NewRaw(`UPDATE ez.jobs
		SET status = 'failed',
			last_error = ?,
			finished_at = now()
		WHERE id = ?`, errMsg, job.ID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark terminally failed: %w", err)
	}

	q.log.Error("job exhausted retries",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempts", job.Attempts),
		slog.String("error", errMsg))

	if q.sink != nil {
		if err := q.sink.Move(ctx, job, errMsg); err != nil {
			return fmt.Errorf("move job %s to dead letter queue: %w", job.ID, err)
		}
	}

	return nil
}

// RecoverStalled requeues jobs stuck in active past their lease.
//
// A worker that crashed mid-handler never reports back; without this sweep
// its jobs would be lost forever. Stalled jobs are treated as
// failed-for-retry: they re-enter the normal backoff/DLQ path, never
// discarded.
func (q *Queue) RecoverStalled(ctx context.Context, lease time.Duration) (int, error) {
	if lease <= 0 {
		lease = 10 * time.Minute
	}

	var stalled []*Job
	err := q.db.NewRaw(`SELECT * FROM ez.jobs
		WHERE queue_name = ?
			AND status = 'active'
			AND started_at < now() - (? || ' seconds')::interval
		FOR UPDATE SKIP LOCKED`,
		q.cfg.Name, int(lease/time.Second)).Scan(ctx, &stalled)
	if err != nil {
		return 0, fmt.Errorf("list stalled jobs: %w", err)
	}

	for _, job := range stalled {
		if err := q.MarkFailed(ctx, job, fmt.Errorf("job stalled: worker lease of %s expired", lease)); err != nil {
			return 0, err
		}
	}

	if len(stalled) > 0 {
		q.log.Warn("recovered stalled jobs",
			slog.Int("count", len(stalled)),
			slog.Duration("lease", lease))
	}

	return len(stalled), nil
}

// Stats returns this queue's job counts by status
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := q.db.NewRaw(`SELECT
		COUNT(*) FILTER (WHERE status = 'waiting') as waiting,
		COUNT(*) FILTER (WHERE status = 'delayed') as delayed,
		COUNT(*) FILTER (WHERE status = 'active') as active,
		COUNT(*) FILTER (WHERE status = 'completed') as completed,
		COUNT(*) FILTER (WHERE status = 'failed') as failed
	FROM ez.jobs WHERE queue_name = ?`, q.cfg.Name).
		Scan(ctx, &stats.Waiting, &stats.Delayed, &stats.Active, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}

	return stats, nil
}

// Store provides cross-queue read and maintenance operations
type Store struct {
	db  bun.IDB
	log *slog.Logger
}

// NewStore creates the shared job store
func NewStore(db bun.IDB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With(logger.Scope("jobs.store")),
	}
}

// GetJob retrieves a job by ID across all queues. Returns nil if not found.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	job := &Job{}
	err := s.db.NewSelect().
		Model(job).
		Where("id = ?", id).
		Scan(ctx)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	return job, nil
}

// StatsByQueue returns job counts for every queue that has rows
func (s *Store) StatsByQueue(ctx context.Context) (map[string]*Stats, error) {
	var rows []struct {
		Queue     string `bun:"queue_name"`
		Waiting   int64  `bun:"waiting"`
		Delayed   int64  `bun:"delayed"`
		Active    int64  `bun:"active"`
		Completed int64  `bun:"completed"`
		Failed    int64  `bun:"failed"`
	}

	err := s.db.NewRaw(`SELECT queue_name,
		COUNT(*) FILTER (WHERE status = 'waiting') as waiting,
		COUNT(*) FILTER (WHERE status = 'delayed') as delayed,
		COUNT(*) FILTER (WHERE status = 'active') as active,
		COUNT(*) FILTER (WHERE status = 'completed') as completed,
		COUNT(*) FILTER (WHERE status = 'failed') as failed
	FROM ez.jobs GROUP BY queue_name`).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("get stats by queue: %w", err)
	}

	out := make(map[string]*Stats, len(rows))
	for _, r := range rows {
		out[r.Queue] = &Stats{
			Waiting:   r.Waiting,
			Delayed:   r.Delayed,
			Active:    r.Active,
			Completed: r.Completed,
			Failed:    r.Failed,
		}
	}

	return out, nil
}

// PruneCompleted deletes completed jobs past retention. Failed jobs are
// kept: their history lives on as dead letter entries.
func (s *Store) PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.NewRaw(`DELETE FROM ez.jobs
		WHERE status = 'completed'
			AND finished_at < now() - (? || ' seconds')::interval`,
		int(olderThan/time.Second)).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune completed jobs: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		s.log.Info("pruned completed jobs", slog.Int64("count", count))
	}

	return count, nil
}
