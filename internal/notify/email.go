package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
)

type EmailConfig struct {
	Addr     string
	Host     string
	Username string
	Password string
	From     string
	To       []string
}

// EmailSender delivers alerts over SMTP.
type EmailSender struct {
	config EmailConfig
	auth   smtp.Auth
}

func NewEmailSender(config EmailConfig) EmailSender {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return EmailSender{config: config, auth: auth}
}

func (s EmailSender) message(alert Alert) *email.Email {
	e := email.NewEmail()
	e.From = s.config.From
	e.To = s.config.To
	e.Subject = alert.Subject()
	e.Text = []byte(alert.Body())
	return e
}

func (s EmailSender) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.message(alert).Send(s.config.Addr, s.auth)
	if err != nil {
		return fmt.Errorf("send alert email for %s: %w", alert.TrackerID, err)
	}
	return nil
}
