package jobs

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Status represents the state of a job
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Well-known job types. Each queue declares the subset it accepts when it is
// built; enqueueing an undeclared type is rejected up front.
const (
	TypeGenerateThumbnail = "GENERATE_THUMBNAIL"
	TypeOptimizePDF       = "OPTIMIZE_PDF"
	TypeWebhookDelivery   = "WEBHOOK_DELIVERY"
	TypeScheduledSend     = "SCHEDULED_SEND"
	TypeCleanup           = "CLEANUP"
)

// Queue names used by the application
const (
	QueueDocuments   = "documents"
	QueueWebhooks    = "webhooks"
	QueueScheduled   = "scheduled"
	QueueMaintenance = "maintenance"
)

// Job is one unit of queued work. Identity is stable across retries: the
// same row is requeued with an incremented attempt count until it either
// completes or exhausts max_attempts and is handed to the dead letter sink.
type Job struct {
	bun.BaseModel `bun:"table:ez.jobs,alias:j"`

	ID             string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Queue          string          `bun:"queue_name,notnull" json:"queue"`
	Type           string          `bun:"job_type,notnull" json:"type"`
	Payload        json.RawMessage `bun:"payload,type:jsonb,notnull,default:'{}'" json:"payload"`
	Attempts       int             `bun:"attempts,notnull,default:0" json:"attempts"`
	MaxAttempts    int             `bun:"max_attempts,notnull,default:3" json:"maxAttempts"`
	BackoffKind    BackoffKind     `bun:"backoff_kind,notnull,default:'exponential'" json:"-"`
	BackoffBaseSec int             `bun:"backoff_base_sec,notnull,default:60" json:"-"`
	Priority       int             `bun:"priority,notnull,default:0" json:"priority"`
	Status         Status          `bun:"status,notnull,default:'waiting'" json:"status"`
	Progress       int             `bun:"progress,notnull,default:0" json:"progress"`
	DedupeKey      *string         `bun:"dedupe_key" json:"-"`
	RunAt          *time.Time      `bun:"run_at" json:"-"`
	CreatedAt      time.Time       `bun:"created_at,notnull,default:now()" json:"createdAt"`
	StartedAt      *time.Time      `bun:"started_at" json:"processedAt,omitempty"`
	FinishedAt     *time.Time      `bun:"finished_at" json:"finishedAt,omitempty"`
	Result         json.RawMessage `bun:"result,type:jsonb" json:"result,omitempty"`
	LastError      *string         `bun:"last_error" json:"error,omitempty"`
}

// UnmarshalPayload decodes the job payload into a typed struct
func (j *Job) UnmarshalPayload(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

// backoff returns the retry policy recorded on the job row
func (j *Job) backoff() Backoff {
	base := time.Duration(j.BackoffBaseSec) * time.Second
	switch j.BackoffKind {
	case BackoffFixed:
		return Fixed{Interval: base}
	default:
		return Exponential{Base: base}
	}
}

// Stats holds per-queue job counts
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// truncateError truncates an error message to 1000 characters
func truncateError(msg string) string {
	if len(msg) > 1000 {
		return msg[:1000]
	}
	return msg
}
