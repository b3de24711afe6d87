// Package mailer sends transactional mail. The SMTP implementation is the
// production one; Nop serves dev setups and tests.
package mailer

import (
	"fmt"
	"log/slog"
	"strconv"

	"gopkg.in/gomail.v2"
)

type Mailer interface {
	Send(to, subject, htmlBody string) error
}

type SMTP struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTP(host, port, user, pass, from string) (*SMTP, error) {
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP port %q: %w", port, err)
	}
	return &SMTP{
		dialer: gomail.NewDialer(host, p, user, pass),
		from:   from,
	}, nil
}

func (s *SMTP) Send(to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// Nop logs instead of sending.
type Nop struct {
	Log *slog.Logger
}

func (n *Nop) Send(to, subject, htmlBody string) error {
	if n.Log != nil {
		n.Log.Info("mail_skipped", "to", to, "subject", subject)
	}
	return nil
}
