package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// cleanupDedupeKey keeps overlapping cron fires from stacking cleanup jobs.
const cleanupDedupeKey = "cleanup:daily"

// Cleanup scopes carried in the CLEANUP job payload.
const (
	CleanupTempFiles          = "temp_files"
	CleanupOrphanedDocuments  = "orphaned_documents"
	CleanupOrphanedSignatures = "orphaned_signatures"
	CleanupFull               = "full_cleanup"
)

// signaturePrefix is where signer signature images live in the main bucket.
const signaturePrefix = "signatures/"

// CleanupPayload selects what a CLEANUP job sweeps. An empty type means
// full_cleanup. MaxAgeHours overrides the configured temp-file age.
type CleanupPayload struct {
	Type        string `json:"type"`
	MaxAgeHours int    `json:"maxAgeHours,omitempty"`
}

// Enqueuer is the subset of the maintenance queue used by the cron task
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts jobs.EnqueueOptions) (*jobs.Job, error)
}

// JobPruner removes completed jobs past retention
type JobPruner interface {
	PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DeadLetterCleaner removes resolved dead-letter entries past retention
type DeadLetterCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DeliveryEventPruner removes settled webhook delivery events past retention
type DeliveryEventPruner interface {
	DeleteOldDeliveryEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ObjectSweeper is the storage surface the cleanup sweeps need
type ObjectSweeper interface {
	Enabled() bool
	CleanupTemp(ctx context.Context, maxAge time.Duration) (int, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// DocumentIndex answers whether storage objects still have owning rows
type DocumentIndex interface {
	DocumentExists(ctx context.Context, id string) (bool, error)
	SignerExists(ctx context.Context, id string) (bool, error)
}

// StalledRecoverer is the per-queue stalled-job recovery surface
type StalledRecoverer interface {
	Name() string
	RecoverStalled(ctx context.Context, lease time.Duration) (int, error)
}

// Maintenance owns the cleanup sweeps: retention for completed jobs,
// resolved dead letters and settled delivery events, plus temp-file and
// orphaned-object removal. The cron entry enqueues a CLEANUP job so the
// work runs through the maintenance pool like everything else instead of
// inside the cron goroutine.
type Maintenance struct {
	queue    Enqueuer
	jobs     JobPruner
	dlq      DeadLetterCleaner
	webhooks DeliveryEventPruner
	storage  ObjectSweeper
	index    DocumentIndex
	cfg      *config.Config
	log      *slog.Logger
}

// NewMaintenance creates the maintenance task set
func NewMaintenance(queue Enqueuer, jobPruner JobPruner, dlqCleaner DeadLetterCleaner, eventPruner DeliveryEventPruner, sweeper ObjectSweeper, index DocumentIndex, cfg *config.Config, log *slog.Logger) *Maintenance {
	return &Maintenance{
		queue:    queue,
		jobs:     jobPruner,
		dlq:      dlqCleaner,
		webhooks: eventPruner,
		storage:  sweeper,
		index:    index,
		cfg:      cfg,
		log:      log.With(logger.Scope("maintenance")),
	}
}

// EnqueueCleanup is the cron entry point: it hands the full sweep to the
// maintenance queue as a CLEANUP job
func (m *Maintenance) EnqueueCleanup(ctx context.Context) error {
	_, err := m.queue.Enqueue(ctx, jobs.TypeCleanup, CleanupPayload{Type: CleanupFull}, jobs.EnqueueOptions{
		DedupeKey: cleanupDedupeKey,
	})
	if err != nil {
		return fmt.Errorf("enqueue cleanup job: %w", err)
	}
	return nil
}

// HandleCleanup runs the sweeps the payload selects. Each step is
// independent: a failing step is logged and the rest still run, then the
// job errors so the failure is visible and retried. Every sweep is
// idempotent.
func (m *Maintenance) HandleCleanup(ctx context.Context, job *jobs.Job) (any, error) {
	var payload CleanupPayload
	if len(job.Payload) > 0 {
		if err := job.UnmarshalPayload(&payload); err != nil {
			return nil, jobs.Permanent(fmt.Errorf("invalid cleanup payload: %w", err))
		}
	}
	if payload.Type == "" {
		payload.Type = CleanupFull
	}

	result := map[string]any{"type": payload.Type}
	failed := 0

	step := func(name string, fn func() (any, error)) {
		v, err := fn()
		if err != nil {
			m.log.Error("cleanup step failed", slog.String("step", name), logger.Error(err))
			failed++
			return
		}
		result[name] = v
	}

	switch payload.Type {
	case CleanupFull:
		step("jobsPruned", func() (any, error) {
			return m.jobs.PruneCompleted(ctx, time.Duration(m.cfg.Jobs.CompletedRetentionHours)*time.Hour)
		})
		step("deadLettersRemoved", func() (any, error) {
			return m.dlq.Cleanup(ctx, time.Duration(m.cfg.Scheduler.DLQRetentionDays)*24*time.Hour)
		})
		step("deliveryEventsRemoved", func() (any, error) {
			return m.webhooks.DeleteOldDeliveryEvents(ctx, time.Duration(m.cfg.Webhooks.RetentionDays)*24*time.Hour)
		})
		if m.storage.Enabled() {
			step("tempFilesRemoved", func() (any, error) {
				return m.storage.CleanupTemp(ctx, m.tempMaxAge(payload))
			})
			step("orphanedDocumentsRemoved", func() (any, error) {
				return m.sweepOrphanedDocuments(ctx)
			})
			step("orphanedSignaturesRemoved", func() (any, error) {
				return m.sweepOrphanedSignatures(ctx)
			})
		}

	case CleanupTempFiles:
		if m.storage.Enabled() {
			step("tempFilesRemoved", func() (any, error) {
				return m.storage.CleanupTemp(ctx, m.tempMaxAge(payload))
			})
		}

	case CleanupOrphanedDocuments:
		if m.storage.Enabled() {
			step("orphanedDocumentsRemoved", func() (any, error) {
				return m.sweepOrphanedDocuments(ctx)
			})
		}

	case CleanupOrphanedSignatures:
		if m.storage.Enabled() {
			step("orphanedSignaturesRemoved", func() (any, error) {
				return m.sweepOrphanedSignatures(ctx)
			})
		}

	default:
		return nil, jobs.Permanent(fmt.Errorf("unknown cleanup type %q", payload.Type))
	}

	if failed > 0 {
		return nil, fmt.Errorf("cleanup finished with %d failed steps", failed)
	}

	m.log.Info("cleanup completed", slog.Any("result", result))
	return result, nil
}

func (m *Maintenance) tempMaxAge(payload CleanupPayload) time.Duration {
	if payload.MaxAgeHours > 0 {
		return time.Duration(payload.MaxAgeHours) * time.Hour
	}
	return time.Duration(m.cfg.Scheduler.TempFileMaxAgeHours) * time.Hour
}

// sweepOrphanedDocuments deletes document-bucket objects whose owning
// document row is gone. Keys are laid out as <documentID>/<object>.
func (m *Maintenance) sweepOrphanedDocuments(ctx context.Context) (int, error) {
	keys, err := m.storage.ListKeys(ctx, "")
	if err != nil {
		return 0, err
	}

	deleted := 0
	known := make(map[string]bool)
	for _, key := range keys {
		if strings.HasPrefix(key, signaturePrefix) {
			continue
		}
		docID, _, ok := strings.Cut(key, "/")
		if !ok || docID == "" {
			continue
		}

		exists, seen := known[docID]
		if !seen {
			exists, err = m.index.DocumentExists(ctx, docID)
			if err != nil {
				return deleted, err
			}
			known[docID] = exists
		}
		if exists {
			continue
		}

		if err := m.storage.Delete(ctx, key); err != nil {
			m.log.Warn("failed to delete orphaned object",
				slog.String("key", key), logger.Error(err))
			continue
		}
		deleted++
	}

	return deleted, nil
}

// sweepOrphanedSignatures deletes signature images whose signer row is
// gone. Keys are laid out as signatures/<signerID>/<object>.
func (m *Maintenance) sweepOrphanedSignatures(ctx context.Context) (int, error) {
	keys, err := m.storage.ListKeys(ctx, signaturePrefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	known := make(map[string]bool)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, signaturePrefix)
		signerID, _, ok := strings.Cut(rest, "/")
		if !ok || signerID == "" {
			continue
		}

		exists, seen := known[signerID]
		if !seen {
			exists, err = m.index.SignerExists(ctx, signerID)
			if err != nil {
				return deleted, err
			}
			known[signerID] = exists
		}
		if exists {
			continue
		}

		if err := m.storage.Delete(ctx, key); err != nil {
			m.log.Warn("failed to delete orphaned signature",
				slog.String("key", key), logger.Error(err))
			continue
		}
		deleted++
	}

	return deleted, nil
}

// StaleSweeper recovers jobs that went active and never finished,
// typically after a worker crash or deploy. Recovered jobs go back
// through the normal retry path.
type StaleSweeper struct {
	queues []StalledRecoverer
	lease  time.Duration
	log    *slog.Logger
}

// NewStaleSweeper creates a sweeper over the given queues
func NewStaleSweeper(queues []StalledRecoverer, lease time.Duration, log *slog.Logger) *StaleSweeper {
	return &StaleSweeper{
		queues: queues,
		lease:  lease,
		log:    log.With(logger.Scope("stale-sweeper")),
	}
}

// Run sweeps every queue. A failing queue is logged and the sweep
// moves on; the next tick retries it anyway.
func (s *StaleSweeper) Run(ctx context.Context) error {
	for _, q := range s.queues {
		recovered, err := q.RecoverStalled(ctx, s.lease)
		if err != nil {
			s.log.Error("stalled job recovery failed",
				slog.String("queue", q.Name()),
				logger.Error(err))
			continue
		}
		if recovered > 0 {
			s.log.Warn("recovered stalled jobs",
				slog.String("queue", q.Name()),
				slog.Int("count", recovered))
		}
	}
	return nil
}
