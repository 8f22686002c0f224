package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JulesNsenda/ezsign-sub003/domain/email"
	"github.com/JulesNsenda/ezsign-sub003/domain/webhooks"
	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/pkg/apperror"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// Store is the persistence surface the scheduler needs
type Store interface {
	Get(ctx context.Context, id string) (*Document, error)
	SetScheduled(ctx context.Context, id string, at time.Time) (bool, error)
	CancelSchedule(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id string) error
	MarkSignerNotified(ctx context.Context, signerID string) error
}

// Enqueuer is the slice of the job queue the scheduler uses
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts jobs.EnqueueOptions) (*jobs.Job, error)
	CancelByDedupeKey(ctx context.Context, dedupeKey string) (bool, error)
}

// EventTrigger fans domain events out to the owner's webhook subscribers
type EventTrigger interface {
	Trigger(ctx context.Context, ownerID, eventType string, data any)
}

// Scheduler runs the scheduled send pipeline: a document scheduled for a
// future time gets one deduplicated job; when it fires, signers are
// notified according to the document's signing order.
type Scheduler struct {
	store   Store
	queue   Enqueuer
	sender  email.Sender
	events  EventTrigger
	baseURL string
	from    string
	log     *slog.Logger
}

// NewScheduler creates the scheduled send service
func NewScheduler(store Store, queue Enqueuer, sender email.Sender, events EventTrigger, cfg *config.Config, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		queue:   queue,
		sender:  sender,
		events:  events,
		baseURL: cfg.AppBaseURL,
		from:    cfg.Email.FromName,
		log:     log.With(logger.Scope("documents.scheduler")),
	}
}

// dedupeKey makes scheduling idempotent per document: rescheduling
// replaces the pending job instead of stacking a second send
func dedupeKey(documentID string) string {
	return "scheduled-send:" + documentID
}

// Schedule queues a document to be sent at the given time
func (s *Scheduler) Schedule(ctx context.Context, documentID string, at time.Time) (*Document, error) {
	doc, err := s.store.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperror.ErrDocumentNotFound
	}
	if doc.Status != StatusDraft && doc.Status != StatusScheduled {
		return nil, apperror.NewBadRequest(fmt.Sprintf("document is %s, only drafts can be scheduled", doc.Status))
	}
	if len(doc.Signers) == 0 {
		return nil, apperror.NewBadRequest("document has no signers")
	}
	if at.Before(time.Now()) {
		return nil, apperror.NewBadRequest("scheduled time is in the past")
	}

	ok, err := s.store.SetScheduled(ctx, documentID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.ErrConflict.WithMessage("document changed state while scheduling")
	}

	_, err = s.queue.Enqueue(ctx, jobs.TypeScheduledSend,
		ScheduledSendPayload{DocumentID: documentID, ScheduledFor: at},
		jobs.EnqueueOptions{
			Delay:     time.Until(at),
			DedupeKey: dedupeKey(documentID),
		})
	if err != nil {
		return nil, fmt.Errorf("enqueue scheduled send: %w", err)
	}

	s.log.Info("document send scheduled",
		slog.String("document_id", documentID),
		slog.Time("at", at))

	doc.Status = StatusScheduled
	doc.ScheduledAt = &at
	return doc, nil
}

// Cancel withdraws a scheduled send, returning the document to draft.
// The pending job is deleted too; if that fails, the staleness check in
// HandleScheduledSend still stops the send when the job fires.
func (s *Scheduler) Cancel(ctx context.Context, documentID string) error {
	doc, err := s.store.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return apperror.ErrDocumentNotFound
	}

	ok, err := s.store.CancelSchedule(ctx, documentID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NewBadRequest(fmt.Sprintf("document is %s, not scheduled", doc.Status))
	}

	if _, err := s.queue.CancelByDedupeKey(ctx, dedupeKey(documentID)); err != nil {
		s.log.Warn("could not remove pending send job",
			slog.String("document_id", documentID),
			logger.Error(err))
	}

	s.log.Info("scheduled send cancelled", slog.String("document_id", documentID))
	return nil
}

// HandleScheduledSend is the SCHEDULED_SEND job handler.
//
// Staleness is decided here, at execution time: a document that was
// cancelled, rescheduled for a different time, or already sent makes the
// job complete without side effects. Completing (not failing) keeps stale
// jobs out of the retry path and the dead letter queue.
func (s *Scheduler) HandleScheduledSend(ctx context.Context, job *jobs.Job) (any, error) {
	var payload ScheduledSendPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, jobs.Permanent(fmt.Errorf("invalid scheduled send payload: %w", err))
	}
	if payload.DocumentID == "" {
		return nil, jobs.Permanent(fmt.Errorf("scheduled send payload missing document id"))
	}

	doc, err := s.store.Get(ctx, payload.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		s.log.Warn("scheduled document no longer exists",
			slog.String("document_id", payload.DocumentID))
		return map[string]any{"status": "stale"}, nil
	}

	switch doc.Status {
	case StatusScheduled:
		if doc.ScheduledAt == nil || !doc.ScheduledAt.Equal(payload.ScheduledFor) {
			// Rescheduled since this job was created; the replacement
			// job carries the new time
			s.log.Info("scheduled send is stale, document was rescheduled",
				slog.String("document_id", doc.ID))
			return map[string]any{"status": "stale"}, nil
		}
		return s.send(ctx, doc)
	case StatusSent:
		// A retry after a partial send: finish notifying whoever is
		// still pending, without re-firing the sent event
		return s.notify(ctx, doc)
	default:
		s.log.Info("scheduled send is stale",
			slog.String("document_id", doc.ID),
			slog.String("status", string(doc.Status)))
		return map[string]any{"status": "stale"}, nil
	}
}

// send transitions the document to sent and notifies signers
func (s *Scheduler) send(ctx context.Context, doc *Document) (any, error) {
	if err := s.store.MarkSent(ctx, doc.ID); err != nil {
		return nil, err
	}
	doc.Status = StatusSent

	s.events.Trigger(ctx, doc.OwnerID, webhooks.EventDocumentSent, map[string]any{
		"documentId": doc.ID,
		"title":      doc.Title,
		"signers":    len(doc.Signers),
	})

	return s.notify(ctx, doc)
}

// notify emails pending signers per the document's signing order.
// Each signer is isolated: one bad address never blocks the others. Any
// failure leaves the signer pending and fails the job so the retry only
// covers what is still pending.
func (s *Scheduler) notify(ctx context.Context, doc *Document) (any, error) {
	targets := s.pendingTargets(doc)
	if len(targets) == 0 {
		return map[string]any{"status": "sent", "notified": 0}, nil
	}

	notified := 0
	var firstErr error
	for _, signer := range targets {
		if err := s.notifySigner(ctx, doc, signer); err != nil {
			s.log.Error("failed to notify signer",
				slog.String("document_id", doc.ID),
				slog.String("signer_id", signer.ID),
				logger.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		notified++
	}

	if firstErr != nil {
		return nil, fmt.Errorf("notified %d of %d signers: %w", notified, len(targets), firstErr)
	}

	return map[string]any{"status": "sent", "notified": notified}, nil
}

// pendingTargets selects who to notify now: the first pending signer for
// sequential documents, every pending signer for parallel ones
func (s *Scheduler) pendingTargets(doc *Document) []*Signer {
	var pending []*Signer
	for _, signer := range doc.Signers {
		if signer.Status == SignerPending {
			pending = append(pending, signer)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if doc.SigningOrder == OrderSequential {
		return pending[:1]
	}
	return pending
}

func (s *Scheduler) notifySigner(ctx context.Context, doc *Document, signer *Signer) error {
	rendered, err := email.Render(email.TemplateSignatureRequest, map[string]interface{}{
		"signerName":    signer.Name,
		"senderName":    s.from,
		"documentTitle": doc.Title,
		"signingUrl":    fmt.Sprintf("%s/sign/%s", s.baseURL, signer.ID),
	})
	if err != nil {
		return err
	}

	result, err := s.sender.Send(ctx, email.SendOptions{
		To:      signer.Email,
		ToName:  signer.Name,
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("send to %s failed: %s", signer.Email, result.Error)
	}

	if err := s.store.MarkSignerNotified(ctx, signer.ID); err != nil {
		return err
	}

	s.events.Trigger(ctx, doc.OwnerID, webhooks.EventSignerNotified, map[string]any{
		"documentId": doc.ID,
		"signerId":   signer.ID,
		"email":      signer.Email,
	})

	return nil
}
