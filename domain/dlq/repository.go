package dlq

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// Repository persists dead letter entries. It is the application's
// jobs.DeadLetterSink: every queue hands exhausted jobs here.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a dead letter repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("dlq")),
	}
}

// Move snapshots a terminally failed job as a pending entry
func (r *Repository) Move(ctx context.Context, job *jobs.Job, errMsg string) error {
	entry := &Entry{
		JobID:     job.ID,
		Queue:     job.Queue,
		JobType:   job.Type,
		Payload:   job.Payload,
		Attempts:  job.Attempts,
		LastError: errMsg,
		Status:    StatusPending,
	}

	if _, err := r.db.NewInsert().Model(entry).Exec(ctx); err != nil {
		return fmt.Errorf("insert dead letter entry: %w", err)
	}

	r.log.Warn("job moved to dead letter queue",
		slog.String("job_id", job.ID),
		slog.String("queue", job.Queue),
		slog.String("job_type", job.Type),
		slog.Int("attempts", job.Attempts))

	return nil
}

// Get retrieves an entry by ID. Returns nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Entry, error) {
	entry := &Entry{}
	err := r.db.NewSelect().Model(entry).Where("id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter entry: %w", err)
	}
	return entry, nil
}

// List returns entries matching the filter, newest failures first
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	q := r.db.NewSelect().
		Model((*Entry)(nil)).
		Order("failed_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset)

	if filter.Queue != "" {
		q = q.Where("queue_name = ?", filter.Queue)
	}
	if filter.JobType != "" {
		q = q.Where("job_type = ?", filter.JobType)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var entries []*Entry
	if err := q.Scan(ctx, &entries); err != nil {
		return nil, fmt.Errorf("list dead letter entries: %w", err)
	}
	return entries, nil
}

// Queues returns the distinct queue names present in the dead letter table
func (r *Repository) Queues(ctx context.Context) ([]string, error) {
	var queues []string
	err := r.db.NewSelect().
		Model((*Entry)(nil)).
		ColumnExpr("DISTINCT queue_name").
		Order("queue_name ASC").
		Scan(ctx, &queues)
	if err != nil {
		return nil, fmt.Errorf("list dead letter queues: %w", err)
	}
	return queues, nil
}

// Stats aggregates entry counts by queue and job type
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByQueue: make(map[string]int64),
		ByType:  make(map[string]int64),
	}

	err := r.db.NewRaw(`SELECT
		COUNT(*) as total,
		COUNT(*) FILTER (WHERE status = 'pending') as pending,
		MIN(failed_at) FILTER (WHERE status = 'pending') as oldest_at
	FROM ez.dead_letters`).Scan(ctx, &stats.Total, &stats.Pending, &stats.OldestAt)
	if err != nil {
		return nil, fmt.Errorf("get dead letter stats: %w", err)
	}

	var byQueue []struct {
		Queue string `bun:"queue_name"`
		Count int64  `bun:"count"`
	}
	err = r.db.NewRaw(`SELECT queue_name, COUNT(*) as count
		FROM ez.dead_letters WHERE status = 'pending'
		GROUP BY queue_name`).Scan(ctx, &byQueue)
	if err != nil {
		return nil, fmt.Errorf("get dead letter queue stats: %w", err)
	}
	for _, row := range byQueue {
		stats.ByQueue[row.Queue] = row.Count
	}

	var byType []struct {
		JobType string `bun:"job_type"`
		Count   int64  `bun:"count"`
	}
	err = r.db.NewRaw(`SELECT job_type, COUNT(*) as count
		FROM ez.dead_letters WHERE status = 'pending'
		GROUP BY job_type`).Scan(ctx, &byType)
	if err != nil {
		return nil, fmt.Errorf("get dead letter type stats: %w", err)
	}
	for _, row := range byType {
		stats.ByType[row.JobType] = row.Count
	}

	return stats, nil
}

// MarkRetried resolves a pending entry as retried, pointing at the new job
func (r *Repository) MarkRetried(ctx context.Context, id, retryJobID string) error {
	res, err := r.db.NewUpdate().
		Model((*Entry)(nil)).
		Set("status = ?", string(StatusRetried)).
		Set("resolved_at = now()").
		Set("retry_job_id = ?", retryJobID).
		Where("id = ?", id).
		Where("status = ?", string(StatusPending)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark entry retried: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s is not pending", id)
	}
	return nil
}

// MarkDiscarded resolves a pending entry as discarded
func (r *Repository) MarkDiscarded(ctx context.Context, id string) error {
	res, err := r.db.NewUpdate().
		Model((*Entry)(nil)).
		Set("status = ?", string(StatusDiscarded)).
		Set("resolved_at = now()").
		Where("id = ?", id).
		Where("status = ?", string(StatusPending)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark entry discarded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s is not pending", id)
	}
	return nil
}

// DeleteResolved removes retried/discarded entries older than the
// retention window. Pending entries are never deleted: an operator decision
// must not be aged away.
func (r *Repository) DeleteResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.NewRaw(`DELETE FROM ez.dead_letters
		WHERE status IN ('retried', 'discarded')
			AND resolved_at < now() - (? || ' seconds')::interval`,
		int(olderThan/time.Second)).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete resolved dead letters: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
