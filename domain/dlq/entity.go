// Package dlq holds jobs that exhausted their retries and the operator API
// for inspecting, retrying and discarding them.
package dlq

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Status represents the state of a dead letter entry
type Status string

const (
	// StatusPending means the entry awaits operator action
	StatusPending Status = "pending"
	// StatusRetried means the entry was requeued as a fresh job
	StatusRetried Status = "retried"
	// StatusDiscarded means an operator dismissed the entry
	StatusDiscarded Status = "discarded"
)

// Entry is a snapshot of a terminally failed job. The original job row
// keeps its failed status; the entry carries everything needed to requeue
// the work from scratch.
type Entry struct {
	bun.BaseModel `bun:"table:ez.dead_letters,alias:dl"`

	ID         string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	JobID      string          `bun:"job_id,notnull" json:"jobId"`
	Queue      string          `bun:"queue_name,notnull" json:"queue"`
	JobType    string          `bun:"job_type,notnull" json:"jobType"`
	Payload    json.RawMessage `bun:"payload,type:jsonb,notnull,default:'{}'" json:"payload"`
	Attempts   int             `bun:"attempts,notnull,default:0" json:"attempts"`
	LastError  string          `bun:"last_error,notnull,default:''" json:"error"`
	Status     Status          `bun:"status,notnull,default:'pending'" json:"status"`
	FailedAt   time.Time       `bun:"failed_at,notnull,default:now()" json:"failedAt"`
	ResolvedAt *time.Time      `bun:"resolved_at" json:"resolvedAt,omitempty"`
	RetryJobID *string         `bun:"retry_job_id" json:"retryJobId,omitempty"`
}

// Stats holds dead letter counts grouped by queue and job type
type Stats struct {
	Total    int64            `json:"total"`
	Pending  int64            `json:"pending"`
	ByQueue  map[string]int64 `json:"byQueue"`
	ByType   map[string]int64 `json:"byType"`
	OldestAt *time.Time       `json:"oldestAt,omitempty"`
}

// ListFilter narrows a dead letter listing
type ListFilter struct {
	Queue   string
	JobType string
	Status  Status
	Limit   int
	Offset  int
}

// BatchResult reports per-entry outcomes of a batch operation
type BatchResult struct {
	// Results maps entry ID to whether the operation succeeded for it
	Results map[string]bool `json:"results"`
	// Succeeded is the number of entries processed successfully
	Succeeded int `json:"succeeded"`
	// Failed is the number of entries that could not be processed
	Failed int `json:"failed"`
}
