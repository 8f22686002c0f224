// Package webhooks implements outbound event notifications: subscription
// management, HMAC-signed delivery over HTTP, and per-event retries on an
// escalating delay ladder.
package webhooks

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
)

// Event types emitted by the application
const (
	EventDocumentSent      = "document.sent"
	EventDocumentViewed    = "document.viewed"
	EventDocumentSigned    = "document.signed"
	EventDocumentCompleted = "document.completed"
	EventDocumentDeclined  = "document.declined"
	EventSignerNotified    = "signer.notified"
)

// MaxDeliveryAttempts caps per-event delivery retries
const MaxDeliveryAttempts = 5

// RetryLadder is the delay before each delivery retry: 1m, 5m, 15m, 1h, 6h.
// Retries past the ladder keep the final delay.
var RetryLadder = jobs.Ladder{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	21600 * time.Second,
}

// Subscription is an endpoint one account registered to receive its events.
// Deliveries are scoped to the owner: an event fired for one account never
// reaches another account's endpoints.
type Subscription struct {
	bun.BaseModel `bun:"table:ez.webhook_subscriptions,alias:ws"`

	ID          string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OwnerID     string    `bun:"owner_id,notnull,type:uuid" json:"ownerId"`
	URL         string    `bun:"url,notnull" json:"url"`
	Secret      string    `bun:"secret,notnull" json:"-"`
	EventTypes  []string  `bun:"event_types,array" json:"eventTypes"`
	Active      bool      `bun:"active,notnull,default:true" json:"active"`
	Description string    `bun:"description,notnull,default:''" json:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// ListensTo reports whether the subscription wants eventType. A "*" entry
// matches everything.
func (s *Subscription) ListensTo(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus represents the state of one delivery event
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryEvent tracks delivery of one event to one subscription. Its
// attempt count is independent of any transport job: a delivery that fails
// schedules its own follow-up on the retry ladder.
type DeliveryEvent struct {
	bun.BaseModel `bun:"table:ez.webhook_delivery_events,alias:wde"`

	ID             string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	SubscriptionID string          `bun:"subscription_id,notnull,type:uuid" json:"subscriptionId"`
	EventType      string          `bun:"event_type,notnull" json:"eventType"`
	EventID        string          `bun:"event_id,notnull,type:uuid" json:"eventId"`
	Payload        json.RawMessage `bun:"payload,type:jsonb,notnull,default:'{}'" json:"payload"`
	Attempts       int             `bun:"attempts,notnull,default:0" json:"attempts"`
	MaxAttempts    int             `bun:"max_attempts,notnull,default:5" json:"maxAttempts"`
	Status         DeliveryStatus  `bun:"status,notnull,default:'pending'" json:"status"`
	ResponseStatus *int            `bun:"response_status" json:"responseStatus,omitempty"`
	ResponseBody   *string         `bun:"response_body" json:"responseBody,omitempty"`
	ErrorMessage   *string         `bun:"error_message" json:"errorMessage,omitempty"`
	LastAttemptAt  *time.Time      `bun:"last_attempt_at" json:"lastAttemptAt,omitempty"`
	NextRetryAt    *time.Time      `bun:"next_retry_at" json:"nextRetryAt,omitempty"`
	CreatedAt      time.Time       `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
	DeliveredAt    *time.Time      `bun:"delivered_at" json:"deliveredAt,omitempty"`
}

// ShouldRetry reports whether another delivery attempt is allowed
func (e *DeliveryEvent) ShouldRetry() bool {
	max := e.MaxAttempts
	if max <= 0 {
		max = MaxDeliveryAttempts
	}
	return e.Attempts < max
}

// NextRetryDelay returns the ladder delay for the retry after the given
// number of failed attempts (1-based)
func (e *DeliveryEvent) NextRetryDelay() time.Duration {
	n := e.Attempts - 1
	if n < 0 {
		n = 0
	}
	return RetryLadder.Delay(n)
}

// Envelope is the JSON body POSTed to subscription endpoints
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// DeliveryPayload is the transport job payload: it only names the delivery
// event, everything else is loaded fresh at execution time
type DeliveryPayload struct {
	DeliveryEventID string `json:"deliveryEventId"`
}
