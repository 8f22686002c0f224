package email

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/internal/config"
)

// Module provides email sending
var Module = fx.Module("email",
	fx.Provide(NewSender),
)

// NewSender creates the appropriate email sender based on configuration.
// Uses Mailgun when configured, otherwise falls back to no-op.
func NewSender(cfg *config.Config, log *slog.Logger) Sender {
	if cfg.Email.IsConfigured() && cfg.Email.Enabled {
		if sender := NewMailgunSender(cfg.Email, log); sender != nil {
			log.Info("using Mailgun sender",
				slog.String("domain", cfg.Email.MailgunDomain),
				slog.String("from", cfg.Email.FromEmail))
			return sender
		}
	}

	log.Info("using no-op email sender (Mailgun not configured or email disabled)")
	return &noOpSender{log: log}
}

// noOpSender is a no-op email sender for development/testing
type noOpSender struct {
	log *slog.Logger
}

func (s *noOpSender) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	s.log.Info("email send (no-op)",
		slog.String("to", opts.To),
		slog.String("subject", opts.Subject))

	return &SendResult{
		Success:   true,
		MessageID: "noop-" + opts.To,
	}, nil
}
