package webhooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/pkg/apperror"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// Service manages subscriptions and fans events out to them
type Service struct {
	repo  *Repository
	queue *jobs.Queue
	log   *slog.Logger
}

// NewService creates a webhooks service
func NewService(repo *Repository, queues *jobs.Queues, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		queue: queues.Webhooks,
		log:   log.With(logger.Scope("webhooks.service")),
	}
}

// Trigger fans an event out to the owner's active subscriptions that
// listen for it: one delivery event plus one transport job per
// subscription. Other accounts' endpoints never see the event.
//
// Trigger never fails the caller. Webhook delivery is a side effect of
// document operations; a full queue or db hiccup here must not roll back
// the operation that produced the event. Failures are logged and the
// affected subscription misses the event.
func (s *Service) Trigger(ctx context.Context, ownerID, eventType string, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.log.Error("marshal event data",
			slog.String("event_type", eventType),
			logger.Error(err))
		return
	}

	subs, err := s.repo.ListActiveSubscriptions(ctx, ownerID)
	if err != nil {
		s.log.Error("list subscriptions for event",
			slog.String("owner_id", ownerID),
			slog.String("event_type", eventType),
			logger.Error(err))
		return
	}

	eventID := uuid.New().String()

	for _, sub := range subs {
		if !sub.ListensTo(eventType) {
			continue
		}

		event := &DeliveryEvent{
			SubscriptionID: sub.ID,
			EventType:      eventType,
			EventID:        eventID,
			Payload:        body,
			MaxAttempts:    MaxDeliveryAttempts,
			Status:         DeliveryPending,
		}
		if err := s.repo.CreateDeliveryEvent(ctx, event); err != nil {
			s.log.Error("create delivery event",
				slog.String("event_type", eventType),
				slog.String("subscription_id", sub.ID),
				logger.Error(err))
			continue
		}

		_, err := s.queue.Enqueue(ctx, jobs.TypeWebhookDelivery,
			DeliveryPayload{DeliveryEventID: event.ID},
			jobs.EnqueueOptions{})
		if err != nil {
			s.log.Error("enqueue delivery job",
				slog.String("delivery_event_id", event.ID),
				slog.String("subscription_id", sub.ID),
				logger.Error(err))
			continue
		}

		s.log.Debug("event queued for delivery",
			slog.String("event_type", eventType),
			slog.String("subscription_id", sub.ID),
			slog.String("delivery_event_id", event.ID))
	}
}

// CreateSubscriptionInput carries subscription creation fields
type CreateSubscriptionInput struct {
	OwnerID     string   `json:"ownerId"`
	URL         string   `json:"url"`
	Secret      string   `json:"secret"`
	EventTypes  []string `json:"eventTypes"`
	Description string   `json:"description"`
}

func (in *CreateSubscriptionInput) validate() error {
	if in.OwnerID == "" {
		return apperror.NewBadRequest("ownerId is required")
	}
	if in.URL == "" {
		return apperror.NewBadRequest("url is required")
	}
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperror.NewBadRequest("url must be a valid http(s) URL")
	}
	if in.Secret == "" {
		return apperror.NewBadRequest("secret is required")
	}
	if len(in.EventTypes) == 0 {
		return apperror.NewBadRequest("eventTypes is required")
	}
	for _, t := range in.EventTypes {
		if strings.TrimSpace(t) == "" {
			return apperror.NewBadRequest("eventTypes must not contain blank entries")
		}
	}
	return nil
}

// CreateSubscription registers a new endpoint
func (s *Service) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*Subscription, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		OwnerID:     in.OwnerID,
		URL:         in.URL,
		Secret:      in.Secret,
		EventTypes:  in.EventTypes,
		Active:      true,
		Description: in.Description,
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		slog.String("subscription_id", sub.ID),
		slog.String("url", sub.URL))

	return sub, nil
}

// GetSubscription returns a subscription by ID
func (s *Service) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apperror.ErrSubscriptionNotFound
	}
	return sub, nil
}

// ListSubscriptions returns every subscription
func (s *Service) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	return s.repo.ListSubscriptions(ctx)
}

// UpdateSubscriptionInput carries updatable subscription fields. Nil
// pointers leave the field unchanged.
type UpdateSubscriptionInput struct {
	URL         *string   `json:"url"`
	Secret      *string   `json:"secret"`
	EventTypes  *[]string `json:"eventTypes"`
	Active      *bool     `json:"active"`
	Description *string   `json:"description"`
}

// UpdateSubscription applies a partial update
func (s *Service) UpdateSubscription(ctx context.Context, id string, in UpdateSubscriptionInput) (*Subscription, error) {
	sub, err := s.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		sub.URL = *in.URL
	}
	if in.Secret != nil {
		sub.Secret = *in.Secret
	}
	if in.EventTypes != nil {
		sub.EventTypes = *in.EventTypes
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
	if in.Description != nil {
		sub.Description = *in.Description
	}

	check := CreateSubscriptionInput{
		OwnerID:    sub.OwnerID,
		URL:        sub.URL,
		Secret:     sub.Secret,
		EventTypes: sub.EventTypes,
	}
	if err := check.validate(); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// DeleteSubscription removes an endpoint and its delivery history
func (s *Service) DeleteSubscription(ctx context.Context, id string) error {
	deleted, err := s.repo.DeleteSubscription(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return apperror.ErrSubscriptionNotFound
	}

	s.log.Info("subscription deleted", slog.String("subscription_id", id))
	return nil
}

// ListDeliveries returns a subscription's delivery history
func (s *Service) ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*DeliveryEvent, error) {
	if _, err := s.GetSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}
	return s.repo.ListDeliveryEvents(ctx, subscriptionID, limit, offset)
}
