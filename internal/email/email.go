// Package email is the email channel adapter. It sends through Resend or plain SMTP and
// degrades to skipping every message when no transport could be initialised.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zenlist/notifier/internal/notification"
)

// ErrNoTransport is returned by New when the configured provider cannot be used.
var ErrNoTransport = errors.New("email: no transport configured")

// Message is one outgoing email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Transport delivers a fully built message.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures the transport.
type Config struct {
	// Provider is "resend", "smtp" or empty to pick whichever is configured.
	Provider string
	From     string
	// RedirectTo sends every message to this address instead (development inboxes).
	RedirectTo   string
	ResendAPIKey string
	SMTP         SMTPConfig
}

// Sender implements notification.EmailSender.
type Sender struct {
	transport  Transport
	from       string
	redirectTo string
	logger     *slog.Logger
}

// NewSender wraps an already built transport. A nil transport makes every Send a skip.
func NewSender(t Transport, from, redirectTo string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if from == "" {
		from = "ZenList <onboarding@resend.dev>"
	}
	return &Sender{transport: t, from: from, redirectTo: redirectTo, logger: logger}
}

// New builds the transport named by cfg and verifies it. When that fails the error is
// returned together with a Sender that skips every message, so callers can log and go on.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t, err := buildTransport(ctx, cfg)
	if err != nil {
		logger.Warn("email transport unavailable, emails will be skipped", "provider", cfg.Provider, "error", err)
		return NewSender(nil, cfg.From, cfg.RedirectTo, logger), err
	}
	logger.Info("email transport ready", "provider", t.Name())
	return NewSender(t, cfg.From, cfg.RedirectTo, logger), nil
}

func buildTransport(ctx context.Context, cfg Config) (Transport, error) {
	provider := cfg.Provider
	if provider == "" {
		switch {
		case cfg.ResendAPIKey != "":
			provider = "resend"
		case cfg.SMTP.Host != "":
			provider = "smtp"
		default:
			return nil, ErrNoTransport
		}
	}
	switch provider {
	case "resend":
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("%w: resend api key missing", ErrNoTransport)
		}
		return NewResendTransport(cfg.ResendAPIKey), nil
	case "smtp":
		t, err := NewSMTPTransport(cfg.SMTP)
		if err != nil {
			return nil, err
		}
		if err := t.Verify(ctx); err != nil {
			return nil, fmt.Errorf("verify smtp transport: %w", err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrNoTransport, provider)
}

// Enabled reports whether a transport is available.
func (s *Sender) Enabled() bool {
	return s.transport != nil
}

// Send delivers one email. An empty recipient or a missing transport is a skip, not an error.
func (s *Sender) Send(ctx context.Context, to, subject, html string) (notification.EmailResult, error) {
	if to == "" || s.transport == nil {
		return notification.EmailSkipped, nil
	}
	msg := Message{From: s.from, To: to, Subject: subject, HTML: html}
	if s.redirectTo != "" {
		msg.To = s.redirectTo
		msg.Subject = fmt.Sprintf("[DEV-REDIRECT] %s (Original: %s)", subject, to)
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		return notification.EmailFailed, fmt.Errorf("send email via %s: %w", s.transport.Name(), err)
	}
	s.logger.Debug("email sent", "provider", s.transport.Name(), "subject", subject)
	return notification.EmailSent, nil
}
