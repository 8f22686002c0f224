package webhooks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// Repository persists subscriptions and delivery events
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a webhooks repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("webhooks.repo")),
	}
}

// CreateSubscription inserts a subscription
func (r *Repository) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if _, err := r.db.NewInsert().Model(sub).Exec(ctx); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID. Returns nil if not found.
func (r *Repository) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	sub := &Subscription{}
	err := r.db.NewSelect().Model(sub).Where("id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns all subscriptions, newest first
func (r *Repository) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	var subs []*Subscription
	err := r.db.NewSelect().
		Model(&subs).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// ListActiveSubscriptions returns one owner's active subscriptions
func (r *Repository) ListActiveSubscriptions(ctx context.Context, ownerID string) ([]*Subscription, error) {
	var subs []*Subscription
	err := r.db.NewSelect().
		Model(&subs).
		Where("owner_id = ?", ownerID).
		Where("active = true").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return subs, nil
}

// UpdateSubscription saves changes to a subscription
func (r *Repository) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	sub.UpdatedAt = time.Now()
	res, err := r.db.NewUpdate().
		Model(sub).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %s not found", sub.ID)
	}
	return nil
}

// DeleteSubscription removes a subscription and its delivery history
func (r *Repository) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*Subscription)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CreateDeliveryEvent inserts a pending delivery event
func (r *Repository) CreateDeliveryEvent(ctx context.Context, event *DeliveryEvent) error {
	if _, err := r.db.NewInsert().Model(event).Exec(ctx); err != nil {
		return fmt.Errorf("create delivery event: %w", err)
	}
	return nil
}

// GetDeliveryEvent retrieves a delivery event by ID. Returns nil if not found.
func (r *Repository) GetDeliveryEvent(ctx context.Context, id string) (*DeliveryEvent, error) {
	event := &DeliveryEvent{}
	err := r.db.NewSelect().Model(event).Where("id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery event: %w", err)
	}
	return event, nil
}

// ListDeliveryEvents returns delivery history for a subscription
func (r *Repository) ListDeliveryEvents(ctx context.Context, subscriptionID string, limit, offset int) ([]*DeliveryEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var events []*DeliveryEvent
	err := r.db.NewSelect().
		Model(&events).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list delivery events: %w", err)
	}
	return events, nil
}

// RecordDeliverySuccess marks an event delivered, capturing the endpoint's
// response
func (r *Repository) RecordDeliverySuccess(ctx context.Context, id string, statusCode int, responseBody string) error {
	_, err := r.db.NewUpdate().
		Model((*DeliveryEvent)(nil)).
		Set("status = ?", string(DeliveryDelivered)).
		Set("attempts = attempts + 1").
		Set("response_status = ?", statusCode).
		Set("response_body = ?", responseBody).
		Set("error_message = NULL").
		Set("last_attempt_at = now()").
		Set("next_retry_at = NULL").
		Set("updated_at = now()").
		Set("delivered_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record delivery success: %w", err)
	}
	return nil
}

// RecordDeliveryFailure bumps the event's attempt count and stores the
// failed attempt's response and retry slot, returning the updated event so
// the caller can decide on a retry. nextRetryAt is nil when the attempt
// that just failed was the last one allowed.
func (r *Repository) RecordDeliveryFailure(ctx context.Context, id string, statusCode *int, responseBody *string, errMsg string, nextRetryAt *time.Time) (*DeliveryEvent, error) {
	event := &DeliveryEvent{}
	err := r.db.NewUpdate().
		Model(event).
		Set("attempts = attempts + 1").
		Set("response_status = ?", statusCode).
		Set("response_body = ?", responseBody).
		Set("error_message = ?", errMsg).
		Set("last_attempt_at = now()").
		Set("next_retry_at = ?", nextRetryAt).
		Set("updated_at = now()").
		Where("id = ?", id).
		Returning("*").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("record delivery failure: %w", err)
	}
	return event, nil
}

// MarkDeliveryFailed terminally fails an event after its retries ran out
func (r *Repository) MarkDeliveryFailed(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*DeliveryEvent)(nil)).
		Set("status = ?", string(DeliveryFailed)).
		Set("next_retry_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

// DeleteOldDeliveryEvents prunes delivered/failed events past retention
func (r *Repository) DeleteOldDeliveryEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.NewRaw(`DELETE FROM ez.webhook_delivery_events
		WHERE status IN ('delivered', 'failed')
			AND created_at < now() - (? || ' seconds')::interval`,
		int(olderThan/time.Second)).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete old delivery events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
