// Package mailer delivers transactional email. Delivery is best effort and
// the outcome is reported as a value.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"autoshop-api/internal/config"
)

type Outcome int

const (
	Sent Outcome = iota
	// Logged means no transport is configured and the message was written to the log.
	Logged
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Logged:
		return "logged"
	default:
		return "failed"
	}
}

type Delivery struct {
	Outcome Outcome
	Err     error
}

type Message struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) Delivery
}

// New returns an SMTP mailer when a host is configured and a log mailer otherwise.
func New(cfg config.SMTPConfig) (Mailer, error) {
	if !cfg.Enabled() {
		return LogMailer{}, nil
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &SMTPMailer{client: client, from: from}, nil
}

type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) Delivery {
	slog.Info("email not sent (smtp not configured)", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return Delivery{Outcome: Logged}
}

type SMTPMailer struct {
	client *mail.Client
	from   string
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) Delivery {
	email, err := m.compose(msg)
	if err != nil {
		return Delivery{Outcome: Failed, Err: err}
	}
	if err := m.client.DialAndSendWithContext(ctx, email); err != nil {
		return Delivery{Outcome: Failed, Err: fmt.Errorf("send mail: %w", err)}
	}
	return Delivery{Outcome: Sent}
}

// compose builds a plain-text UTF-8 message; headers are MIME encoded.
func (m *SMTPMailer) compose(msg Message) (*mail.Msg, error) {
	email := mail.NewMsg()
	if err := email.From(m.from); err != nil {
		return nil, fmt.Errorf("sender address: %w", err)
	}
	if err := email.To(msg.To); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	email.Subject(msg.Subject)
	email.SetDate()
	email.SetBodyString(mail.TypeTextPlain, msg.Body)
	return email, nil
}
