// Package email sends signer-facing notifications. Delivery is best
// effort from the caller's point of view: senders report failure in the
// result instead of erroring, and the job layer decides what to retry.
package email

import "context"

// SendOptions describes one outbound email
type SendOptions struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// SendResult reports the outcome of a send
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}

// Sender delivers email. Implementations: Mailgun in production, no-op
// when email is not configured, fakes in tests.
type Sender interface {
	Send(ctx context.Context, opts SendOptions) (*SendResult, error)
}
