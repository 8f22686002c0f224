package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// MailgunSender sends emails via the Mailgun API.
// This is a thin wrapper around the Mailgun SDK.
type MailgunSender struct {
	cfg    config.EmailConfig
	log    *slog.Logger
	client *mailgun.MailgunImpl
}

// NewMailgunSender creates a new Mailgun email sender.
// Returns nil if Mailgun is not configured.
func NewMailgunSender(cfg config.EmailConfig, log *slog.Logger) *MailgunSender {
	if !cfg.IsConfigured() {
		return nil
	}

	return &MailgunSender{
		cfg:    cfg,
		log:    log.With(logger.Scope("email.mailgun")),
		client: mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey),
	}
}

// Send sends an email via Mailgun
func (s *MailgunSender) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	if !s.cfg.Enabled {
		s.log.Warn("email sending is disabled (EMAIL_ENABLED=false)")
		return &SendResult{
			Success: false,
			Error:   "email sending is disabled",
		}, nil
	}

	to := opts.To
	if opts.ToName != "" {
		to = fmt.Sprintf("%s <%s>", opts.ToName, opts.To)
	}
	from := fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail)

	message := s.client.NewMessage(from, opts.Subject, opts.Text, to)
	if opts.HTML != "" {
		message.SetHtml(opts.HTML)
	}

	s.log.Debug("sending email",
		slog.String("to", opts.To),
		slog.String("subject", opts.Subject))

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, messageID, err := s.client.Send(sendCtx, message)
	if err != nil {
		s.log.Error("failed to send email",
			slog.String("to", opts.To),
			slog.String("error", err.Error()))
		return &SendResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	s.log.Info("email sent successfully",
		slog.String("to", opts.To),
		slog.String("message_id", messageID))

	return &SendResult{
		Success:   true,
		MessageID: messageID,
	}, nil
}
