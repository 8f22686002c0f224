package documents

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// Repository persists documents and signers
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a documents repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("documents.repo")),
	}
}

// Get retrieves a document with its signers. Returns nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Document, error) {
	doc := &Document{}
	err := r.db.NewSelect().
		Model(doc).
		Relation("Signers", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("signing_position ASC")
		}).
		Where("d.id = ?", id).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// DocumentExists reports whether a document row exists
func (r *Repository) DocumentExists(ctx context.Context, id string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*Document)(nil)).
		Where("d.id = ?", id).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check document exists: %w", err)
	}
	return exists, nil
}

// SignerExists reports whether a signer row exists
func (r *Repository) SignerExists(ctx context.Context, id string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*Signer)(nil)).
		Where("s.id = ?", id).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check signer exists: %w", err)
	}
	return exists, nil
}

// SetScheduled moves a draft or scheduled document to scheduled with the
// given send time. Only drafts and already-scheduled documents can be
// (re)scheduled.
func (r *Repository) SetScheduled(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", string(StatusScheduled)).
		Set("scheduled_at = ?", at).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN (?, ?)", string(StatusDraft), string(StatusScheduled)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("schedule document: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelSchedule moves a scheduled document back to draft
func (r *Repository) CancelSchedule(ctx context.Context, id string) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", string(StatusDraft)).
		Set("scheduled_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = ?", string(StatusScheduled)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("cancel schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkSent records the document as sent
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", string(StatusSent)).
		Set("sent_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark document sent: %w", err)
	}
	return nil
}

// MarkSignerNotified records that a signer received their request
func (r *Repository) MarkSignerNotified(ctx context.Context, signerID string) error {
	_, err := r.db.NewUpdate().
		Model((*Signer)(nil)).
		Set("status = ?", string(SignerNotified)).
		Set("notified_at = now()").
		Where("id = ?", signerID).
		Where("status = ?", string(SignerPending)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark signer notified: %w", err)
	}
	return nil
}
