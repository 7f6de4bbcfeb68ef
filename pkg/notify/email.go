package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// ChannelEmail is the channel name of EmailNotifier.
const ChannelEmail = "email"

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends alerts as plain-text mail.
type EmailNotifier struct {
	config   SMTPConfig
	sendMail sendMailFunc
}

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &EmailNotifier{config: cfg, sendMail: smtp.SendMail}
}

// Channel returns "email".
func (n *EmailNotifier) Channel() string { return ChannelEmail }

// Send delivers msg to every configured recipient. smtp.SendMail has no
// context support, so ctx is only checked before and after the send.
func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if len(n.config.To) == 0 {
		return NewDeliveryError(ChannelEmail, errors.New("no recipients configured"))
	}
	if err := ctx.Err(); err != nil {
		return NewDeliveryError(ChannelEmail, err)
	}

	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}
	addr := net.JoinHostPort(n.config.Host, fmt.Sprint(n.config.Port))

	done := make(chan error, 1)
	go func() {
		done <- n.sendMail(addr, auth, n.config.From, n.config.To, n.render(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return NewDeliveryError(ChannelEmail, err)
		}
		return nil
	case <-ctx.Done():
		return NewDeliveryError(ChannelEmail, ctx.Err())
	}
}

func (n *EmailNotifier) render(msg Message) []byte {
	subject := msg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.config.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Text, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
