package email

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/redmonkez12/loyalty-card/internal/logging"
)

// SMTPSender delivers through an authenticated SMTP relay
type SMTPSender struct {
	host     string
	port     string
	user     string
	password string
}

func NewSMTPSender(host, port, user, password string) *SMTPSender {
	return &SMTPSender{host: host, port: port, user: user, password: password}
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	auth := smtp.PlainAuth("", s.user, s.password, s.host)

	raw := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		msg.From, msg.To, msg.Subject, msg.HTML,
	))

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, auth, msg.From, []string{msg.To}, raw)
}

// MailgunSender delivers through the Mailgun HTTP API
type MailgunSender struct {
	domain  string
	apiKey  string
	apiBase string
	timeout time.Duration
}

func NewMailgunSender(domain, apiKey, apiBase string) *MailgunSender {
	return &MailgunSender{
		domain:  domain,
		apiKey:  apiKey,
		apiBase: apiBase,
		timeout: 10 * time.Second,
	}
}

func (m *MailgunSender) Send(ctx context.Context, msg Message) error {
	mg := mailgun.NewMailgun(m.domain, m.apiKey)
	if m.apiBase != "" {
		mg.SetAPIBase(m.apiBase)
	}

	message := mailgun.NewMessage(msg.From, msg.Subject, msg.Text, msg.To)
	message.SetHtml(msg.HTML)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, _, err := mg.Send(ctx, message); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}

	return nil
}

// LogSender writes messages to the log instead of delivering them
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(_ context.Context, msg Message) error {
	l.logger.Info("email not delivered (log provider)",
		"to", msg.To,
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return nil
}
