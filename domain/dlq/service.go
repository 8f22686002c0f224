package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/pkg/apperror"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// Store is the persistence surface the service needs
type Store interface {
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, filter ListFilter) ([]*Entry, error)
	Queues(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*Stats, error)
	MarkRetried(ctx context.Context, id, retryJobID string) error
	MarkDiscarded(ctx context.Context, id string) error
	DeleteResolved(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Enqueuer requeues dead-lettered work onto its original queue
type Enqueuer interface {
	EnqueueTo(ctx context.Context, queueName, jobType string, payload json.RawMessage) (*jobs.Job, error)
}

// RegistryEnqueuer adapts the queue registry to the Enqueuer interface
type RegistryEnqueuer struct {
	Registry *jobs.Registry
}

func (e *RegistryEnqueuer) EnqueueTo(ctx context.Context, queueName, jobType string, payload json.RawMessage) (*jobs.Job, error) {
	q, err := e.Registry.Queue(queueName)
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, jobType, payload, jobs.EnqueueOptions{})
}

// Service implements dead letter operations for the operator API
type Service struct {
	store    Store
	enqueuer Enqueuer
	log      *slog.Logger
}

// NewService creates a dead letter service
func NewService(store Store, enqueuer Enqueuer, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		enqueuer: enqueuer,
		log:      log.With(logger.Scope("dlq.service")),
	}
}

// List returns entries matching the filter
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	return s.store.List(ctx, filter)
}

// Get returns a single entry
func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperror.ErrEntryNotFound
	}
	return entry, nil
}

// Queues returns the queue names with dead letter history
func (s *Service) Queues(ctx context.Context) ([]string, error) {
	return s.store.Queues(ctx)
}

// Stats returns aggregate dead letter counts
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

// Retry requeues a pending entry as a brand new job.
//
// The new job starts from attempts 0 with the queue's defaults; the dead
// lettered job's exhausted attempt count does not carry over. The entry is
// marked retried and keeps a pointer to the new job.
func (s *Service) Retry(ctx context.Context, id string) (*jobs.Job, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != StatusPending {
		return nil, apperror.NewBadRequest(fmt.Sprintf("entry is already %s", entry.Status))
	}

	job, err := s.enqueuer.EnqueueTo(ctx, entry.Queue, entry.JobType, entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("requeue dead letter %s: %w", id, err)
	}

	if err := s.store.MarkRetried(ctx, id, job.ID); err != nil {
		return nil, err
	}

	s.log.Info("dead letter retried",
		slog.String("entry_id", id),
		slog.String("new_job_id", job.ID),
		slog.String("queue", entry.Queue),
		slog.String("job_type", entry.JobType))

	return job, nil
}

// Discard dismisses a pending entry without requeueing it
func (s *Service) Discard(ctx context.Context, id string) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status != StatusPending {
		return apperror.NewBadRequest(fmt.Sprintf("entry is already %s", entry.Status))
	}

	if err := s.store.MarkDiscarded(ctx, id); err != nil {
		return err
	}

	s.log.Info("dead letter discarded", slog.String("entry_id", id))
	return nil
}

// RetryBatch retries each entry independently. One bad ID never aborts the
// batch; the result records the outcome per entry.
func (s *Service) RetryBatch(ctx context.Context, ids []string) *BatchResult {
	result := &BatchResult{Results: make(map[string]bool, len(ids))}

	for _, id := range ids {
		if _, err := s.Retry(ctx, id); err != nil {
			s.log.Warn("batch retry entry failed",
				slog.String("entry_id", id),
				slog.String("error", err.Error()))
			result.Results[id] = false
			result.Failed++
			continue
		}
		result.Results[id] = true
		result.Succeeded++
	}

	return result
}

// DiscardBatch discards each entry independently
func (s *Service) DiscardBatch(ctx context.Context, ids []string) *BatchResult {
	result := &BatchResult{Results: make(map[string]bool, len(ids))}

	for _, id := range ids {
		if err := s.Discard(ctx, id); err != nil {
			s.log.Warn("batch discard entry failed",
				slog.String("entry_id", id),
				slog.String("error", err.Error()))
			result.Results[id] = false
			result.Failed++
			continue
		}
		result.Results[id] = true
		result.Succeeded++
	}

	return result
}

// Cleanup removes resolved entries past retention. Pending entries are
// always kept.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.store.DeleteResolved(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("resolved dead letters cleaned up", slog.Int64("deleted", n))
	}
	return n, nil
}
