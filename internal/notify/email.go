// Package notify delivers best-effort email to patients and doctors. The
// workflow orchestrators treat every failure here as a warning, never as an
// error.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender sends via the SendGrid v3 API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	log       *logrus.Logger
}

// NewSendGridSender returns nil when no API key is configured; callers fall
// back to the stub sender.
func NewSendGridSender(cfg SendGridConfig, log *logrus.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = "Clinova Scheduling"
	}
	if log == nil {
		log = logrus.New()
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		log:       log,
	}
}

func (s *SendGridSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if s == nil || s.client == nil {
		return errors.New("sendgrid client not configured")
	}

	msg := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		subject,
		mail.NewEmail("", to),
		body,
		body,
	)

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}

	s.log.WithFields(logrus.Fields{"to": to, "subject": subject}).Debug("email sent")
	return nil
}

// StubSender logs instead of sending; used in dev and when SendGrid is not
// configured.
type StubSender struct {
	log *logrus.Logger
}

func NewStubSender(log *logrus.Logger) *StubSender {
	if log == nil {
		log = logrus.New()
	}
	return &StubSender{log: log}
}

func (s *StubSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.log.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
		"body":    body,
	}).Info("stub email (not delivered)")
	return nil
}
