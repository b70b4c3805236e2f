// Package alert delivers operational alerts for sync failures and drift.
package alert

import (
	"context"
	"fmt"
	"net"
	"time"

	"crmsync_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// Sender delivers one alert message to the configured operators.
type Sender interface {
	SendAlert(ctx context.Context, subject, body string) error
}

// SMTPSender delivers alerts over SMTP via go-mail.
type SMTPSender struct {
	host       string
	port       int
	username   string
	password   string
	fromName   string
	fromEmail  string
	recipients []string
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{
		host:       cfg.GetSMTPHost(),
		port:       cfg.GetSMTPPort(),
		username:   cfg.GetSMTPUsername(),
		password:   cfg.GetSMTPPassword(),
		fromName:   cfg.GetEmailFromName(),
		fromEmail:  cfg.GetEmailFromAddress(),
		recipients: cfg.GetAlertRecipients(),
	}
}

func (s *SMTPSender) SendAlert(ctx context.Context, subject, body string) error {
	if len(s.recipients) == 0 {
		return fmt.Errorf("smtp alert: no recipients configured")
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(s.recipients...); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

// NoopSender discards alerts. Used when email delivery is not configured.
type NoopSender struct{}

func (NoopSender) SendAlert(context.Context, string, string) error { return nil }
