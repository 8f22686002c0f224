package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// Signature headers sent with every delivery
const (
	HeaderSignature = "X-Ezsign-Signature"
	HeaderEventType = "X-Ezsign-Event"
	HeaderDelivery  = "X-Ezsign-Delivery"
)

// Dispatcher executes webhook transport jobs.
//
// A transport job only names a delivery event; the dispatcher loads the
// event and subscription fresh, attempts the HTTP POST, and records the
// outcome. A failed delivery is not a failed transport job: the dispatcher
// schedules the event's next attempt itself on the retry ladder and
// completes. Only an event that exhausts its attempts surfaces a permanent
// error, sending the transport job to the dead letter queue as the durable
// record of the given-up delivery.
type Dispatcher struct {
	repo   *Repository
	queue  *jobs.Queue
	client *http.Client
	log    *slog.Logger
}

// NewDispatcher creates a webhook dispatcher
func NewDispatcher(repo *Repository, queues *jobs.Queues, cfg *config.Config, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:  repo,
		queue: queues.Webhooks,
		client: &http.Client{
			Timeout: cfg.Webhooks.RequestTimeout(),
		},
		log: log.With(logger.Scope("webhooks.dispatcher")),
	}
}

// HandleDelivery is the WEBHOOK_DELIVERY job handler
func (d *Dispatcher) HandleDelivery(ctx context.Context, job *jobs.Job) (any, error) {
	var payload DeliveryPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, jobs.Permanent(fmt.Errorf("invalid delivery payload: %w", err))
	}
	if payload.DeliveryEventID == "" {
		return nil, jobs.Permanent(fmt.Errorf("delivery payload missing event id"))
	}

	event, err := d.repo.GetDeliveryEvent(ctx, payload.DeliveryEventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		// Event pruned since the job was scheduled; nothing left to deliver
		d.log.Warn("delivery event no longer exists",
			slog.String("delivery_event_id", payload.DeliveryEventID))
		return nil, nil
	}
	if event.Status != DeliveryPending {
		// Already delivered or given up on; duplicate transport jobs no-op
		return map[string]any{"status": string(event.Status)}, nil
	}

	sub, err := d.repo.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil || !sub.Active {
		if err := d.repo.MarkDeliveryFailed(ctx, event.ID); err != nil {
			return nil, err
		}
		d.log.Info("delivery dropped, subscription gone or inactive",
			slog.String("delivery_event_id", event.ID),
			slog.String("subscription_id", event.SubscriptionID))
		return map[string]any{"status": "dropped"}, nil
	}

	statusCode, respBody, deliverErr := d.attempt(ctx, sub, event)
	if deliverErr == nil {
		if err := d.repo.RecordDeliverySuccess(ctx, event.ID, statusCode, respBody); err != nil {
			return nil, err
		}
		d.log.Info("webhook delivered",
			slog.String("delivery_event_id", event.ID),
			slog.String("event_type", event.EventType),
			slog.String("url", sub.URL),
			slog.Int("status_code", statusCode),
			slog.Int("attempt", event.Attempts+1))
		return map[string]any{"status": "delivered", "statusCode": statusCode}, nil
	}

	var codePtr *int
	if statusCode != 0 {
		codePtr = &statusCode
	}
	var bodyPtr *string
	if respBody != "" {
		bodyPtr = &respBody
	}
	// The retry slot for the attempt being recorded; nil once the cap
	// is reached so a terminally failed event carries no phantom retry.
	var nextRetryAt *time.Time
	predicted := *event
	predicted.Attempts++
	if predicted.ShouldRetry() {
		at := time.Now().Add(predicted.NextRetryDelay())
		nextRetryAt = &at
	}
	updated, err := d.repo.RecordDeliveryFailure(ctx, event.ID, codePtr, bodyPtr, deliverErr.Error(), nextRetryAt)
	if err != nil {
		return nil, err
	}

	if updated.ShouldRetry() {
		delay := updated.NextRetryDelay()

		_, err := d.queue.Enqueue(ctx, jobs.TypeWebhookDelivery,
			DeliveryPayload{DeliveryEventID: event.ID},
			jobs.EnqueueOptions{Delay: delay})
		if err != nil {
			// Without a follow-up job the event would silently stall;
			// fail the transport job so its own retries reschedule us
			return nil, fmt.Errorf("schedule delivery retry: %w", err)
		}

		d.log.Warn("webhook delivery failed, retry scheduled",
			slog.String("delivery_event_id", event.ID),
			slog.String("url", sub.URL),
			slog.Int("attempt", updated.Attempts),
			slog.Duration("retry_in", delay),
			slog.String("error", deliverErr.Error()))

		return map[string]any{"status": "retry_scheduled", "attempt": updated.Attempts}, nil
	}

	if err := d.repo.MarkDeliveryFailed(ctx, event.ID); err != nil {
		return nil, err
	}

	d.log.Error("webhook delivery exhausted",
		slog.String("delivery_event_id", event.ID),
		slog.String("event_type", event.EventType),
		slog.String("url", sub.URL),
		slog.Int("attempts", updated.Attempts))

	return nil, jobs.Permanent(fmt.Errorf("delivery to %s exhausted after %d attempts: %s",
		sub.URL, updated.Attempts, deliverErr.Error()))
}

// maxResponseBodyBytes caps how much of an endpoint's response is kept on
// the delivery event row
const maxResponseBodyBytes = 4096

// attempt performs one signed HTTP POST and returns the response status
// and (truncated) body. Any response outside 2xx counts as a failure.
func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, event *DeliveryEvent) (int, string, error) {
	body, err := json.Marshal(Envelope{
		ID:        event.EventID,
		Type:      event.EventType,
		CreatedAt: event.CreatedAt,
		Data:      event.Payload,
	})
	if err != nil {
		return 0, "", fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(sub.Secret, body))
	req.Header.Set(HeaderEventType, event.EventType)
	req.Header.Set(HeaderDelivery, event.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	respBody := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, respBody, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}

	return resp.StatusCode, respBody, nil
}

// Sign computes the signature header value for a request body:
// "sha256=" followed by the hex HMAC-SHA256 of the body under the
// subscription secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against a body. It is
// what subscribers are documented to do on their side.
func VerifySignature(secret string, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}
