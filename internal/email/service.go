package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"

	"github.com/redmonkez12/loyalty-card/internal/logging"
)

// Message is a rendered email ready for delivery
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a rendered message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Service renders loyalty emails and hands them to a Sender
type Service struct {
	sender      Sender
	fromEmail   string
	frontendURL string
	logger      *logging.Logger
}

func NewService(sender Sender, fromEmail, frontendURL string, logger *logging.Logger) *Service {
	return &Service{
		sender:      sender,
		fromEmail:   fromEmail,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// SendVerificationEmail sends an email verification link to the user.
// It is safe to call from a goroutine.
func (s *Service) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	logger := s.logger.With("email", toEmail)

	verificationLink := s.frontendURL + "/verify?token=" + url.QueryEscape(token)

	body, err := renderVerificationEmail(verificationLink)
	if err != nil {
		logger.Error("failed to render email template", "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	msg := Message{
		From:    s.fromEmail,
		To:      toEmail,
		Subject: "Verify your email address",
		HTML:    body,
		Text:    "Confirm your email address to start collecting stamps: " + verificationLink,
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		logger.Error("failed to send verification email", "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("verification email sent")
	return nil
}

var verificationTemplate = template.Must(template.New("verification").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #7C4A1E; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
        .content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
        .button { display: inline-block; background-color: #7C4A1E; color: white !important; padding: 12px 30px; text-decoration: none; border-radius: 5px; margin: 20px 0; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Your loyalty card is almost ready</h1>
    </div>
    <div class="content">
        <h2>Verify your email address</h2>
        <p>Confirm your address to unlock your card. Every visit earns a stamp, and ten stamps earn a free reward.</p>

        <a href="{{.VerificationLink}}" class="button" style="color: white !important;">Verify Email Address</a>

        <p>Or copy and paste this link into your browser:</p>
        <p style="word-break: break-all;">{{.VerificationLink}}</p>

        <p style="margin-top: 30px;">If you didn't create an account, you can safely ignore this email.</p>
    </div>
    <div class="footer">
        <p>This link will expire in 24 hours.</p>
    </div>
</body>
</html>
`))

func renderVerificationEmail(verificationLink string) (string, error) {
	var buf bytes.Buffer
	data := struct {
		VerificationLink string
	}{
		VerificationLink: verificationLink,
	}

	if err := verificationTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}
