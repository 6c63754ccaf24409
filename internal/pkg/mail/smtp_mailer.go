package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer for cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.From == "" {
		cfg.From = "no-reply@localhost"
		log.Warnf("[Mail] SMTP_FROM not set, using default sender: %s", cfg.From)
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// Send delivers one HTML message.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	msg := buildMessage(m.sender(), to, subject, body)

	if err := m.send(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	log.Infof("[Mail] Email sent to %s via %s", to, addr)
	return nil
}

// SendWelcome renders and sends the welcome email of a provisioned admin.
func (m *SMTPMailer) SendWelcome(ctx context.Context, w Welcome) error {
	subject, body, err := RenderWelcome(w)
	if err != nil {
		return err
	}
	return m.Send(ctx, w.To, subject, body)
}

func (m *SMTPMailer) sender() string {
	if m.cfg.FromName == "" {
		return m.cfg.From
	}
	return fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.From)
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// LogMailer only logs messages. Used when no SMTP host is configured.
type LogMailer struct{}

// SendWelcome logs the welcome email instead of sending it.
func (LogMailer) SendWelcome(_ context.Context, w Welcome) error {
	log.Infof("[Mail] SMTP disabled, welcome email for %s not sent (activation: %s)", w.To, w.ActivationURL)
	return nil
}
