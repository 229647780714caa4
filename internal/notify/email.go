package notify

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"
)

// ErrNoRecipient is returned when an EmailNotifier has no destination address.
var ErrNoRecipient = errors.New("notification e-mail recipient not configured")

// MailDialer sends composed messages. *gomail.Dialer satisfies it.
type MailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier mails every new lead to the admin address.
type EmailNotifier struct {
	dialer MailDialer
	from   string
	to     string
}

// NewEmailNotifier creates an EmailNotifier backed by an SMTP dialer.
func NewEmailNotifier(host string, port int, user, password, from, to string) *EmailNotifier {
	if from == "" {
		from = user
	}
	return &EmailNotifier{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
		to:     to,
	}
}

// NewEmailNotifierWithDialer creates an EmailNotifier with a custom dialer.
func NewEmailNotifierWithDialer(dialer MailDialer, from, to string) *EmailNotifier {
	return &EmailNotifier{dialer: dialer, from: from, to: to}
}

// Name returns "email".
func (e *EmailNotifier) Name() string { return "email" }

// Notify sends the lead summary as a plain-text message.
func (e *EmailNotifier) Notify(ctx context.Context, n Notification) error {
	if e.to == "" {
		return ErrNoRecipient
	}
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to)
	m.SetHeader("Subject", Subject(n))
	m.SetBody("text/plain", n.Summary)

	if err := e.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send lead e-mail: %w", err)
	}
	return nil
}

// Subject returns the e-mail subject for a lead.
func Subject(n Notification) string {
	return "Новая заявка: " + n.Lead.Phone
}
