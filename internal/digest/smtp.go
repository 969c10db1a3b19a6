package digest

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig holds the settings for connecting to an SMTP server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string // the From address
}

// SMTPSender sends mail through an SMTP relay. STARTTLS is negotiated by
// smtp.SendMail when the server offers it.
type SMTPSender struct {
	config SMTPConfig
	auth   smtp.Auth
	now    func() time.Time

	// send is smtp.SendMail; replaced in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(config SMTPConfig) *SMTPSender {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &SMTPSender{
		config: config,
		auth:   auth,
		now:    time.Now,
		send:   smtp.SendMail,
	}
}

// Send implements Sender. smtp.SendMail has no context support, so ctx is
// only checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" || s.config.Sender == "" {
		return errors.New("smtp: sender and recipient are required")
	}
	if strings.ContainsAny(to+subject, "\r\n") {
		return errors.New("smtp: header values must not contain line breaks")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	msg := buildMessage(s.config.Sender, to, subject, body, s.now())
	if err := s.send(addr, s.auth, s.config.Sender, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, body string, date time.Time) []byte {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")
	return []byte(
		"To: " + to + "\r\n" +
			"From: " + from + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"Date: " + date.Format(time.RFC1123Z) + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			body + "\r\n")
}
