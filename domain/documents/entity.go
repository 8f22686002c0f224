// Package documents manages e-signature documents, their signers and the
// scheduled send pipeline.
package documents

import (
	"time"

	"github.com/uptrace/bun"
)

// Status represents the lifecycle of a document
type Status string

const (
	// StatusDraft means the document is being prepared
	StatusDraft Status = "draft"
	// StatusScheduled means a future send is queued
	StatusScheduled Status = "scheduled"
	// StatusSent means signers have been notified
	StatusSent Status = "sent"
	// StatusCompleted means every signer has signed
	StatusCompleted Status = "completed"
	// StatusCancelled means the document was withdrawn
	StatusCancelled Status = "cancelled"
)

// SigningOrder controls how signers are notified
type SigningOrder string

const (
	// OrderSequential notifies one signer at a time, in position order
	OrderSequential SigningOrder = "sequential"
	// OrderParallel notifies every signer at once
	OrderParallel SigningOrder = "parallel"
)

// Document is an e-signature envelope
type Document struct {
	bun.BaseModel `bun:"table:ez.documents,alias:d"`

	ID           string       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OwnerID      string       `bun:"owner_id,notnull,type:uuid" json:"ownerId"`
	Title        string       `bun:"title,notnull" json:"title"`
	Status       Status       `bun:"status,notnull,default:'draft'" json:"status"`
	SigningOrder SigningOrder `bun:"signing_order,notnull,default:'parallel'" json:"signingOrder"`
	StorageKey   string       `bun:"storage_key,notnull,default:''" json:"-"`
	ScheduledAt  *time.Time   `bun:"scheduled_at" json:"scheduledAt,omitempty"`
	SentAt       *time.Time   `bun:"sent_at" json:"sentAt,omitempty"`
	CreatedAt    time.Time    `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt    time.Time    `bun:"updated_at,notnull,default:now()" json:"updatedAt"`

	Signers []*Signer `bun:"rel:has-many,join:id=document_id" json:"signers,omitempty"`
}

// SignerStatus represents one signer's progress
type SignerStatus string

const (
	SignerPending  SignerStatus = "pending"
	SignerNotified SignerStatus = "notified"
	SignerSigned   SignerStatus = "signed"
	SignerDeclined SignerStatus = "declined"
)

// Signer is one recipient of a document
type Signer struct {
	bun.BaseModel `bun:"table:ez.signers,alias:s"`

	ID         string       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DocumentID string       `bun:"document_id,notnull,type:uuid" json:"documentId"`
	Email      string       `bun:"email,notnull" json:"email"`
	Name       string       `bun:"name,notnull,default:''" json:"name"`
	Position   int          `bun:"signing_position,notnull,default:0" json:"position"`
	Status     SignerStatus `bun:"status,notnull,default:'pending'" json:"status"`
	NotifiedAt *time.Time   `bun:"notified_at" json:"notifiedAt,omitempty"`
	SignedAt   *time.Time   `bun:"signed_at" json:"signedAt,omitempty"`
	CreatedAt  time.Time    `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// ScheduledSendPayload is the SCHEDULED_SEND job payload
type ScheduledSendPayload struct {
	DocumentID string `json:"documentId"`
	// ScheduledFor is the send time the job was created with; a document
	// rescheduled after this job was enqueued makes the job stale
	ScheduledFor time.Time `json:"scheduledFor"`
}
