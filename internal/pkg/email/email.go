package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/resend/resend-go/v3"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

const maxRetries = 3

// Sender delivers one rendered HTML email
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// EmailService renders notification emails and hands them to a Sender
type EmailService interface {
	SendNotification(ctx context.Context, to string, data NotificationData) error
}

type emailServiceImpl struct {
	sender    Sender
	templates *template.Template
}

// NewEmailService creates the email service for the configured provider
func NewEmailService(cfg *config.Config) (EmailService, error) {
	var sender Sender
	switch cfg.Email.Provider {
	case config.EmailProviderResend:
		sender = NewResendSender(cfg.Email.ResendAPIKey, cfg.SMTP.FromName, cfg.Email.From)
	default:
		sender = NewSMTPSender(cfg.SMTP)
	}
	return NewEmailServiceWithSender(sender)
}

// NewEmailServiceWithSender creates the email service on top of an explicit sender
func NewEmailServiceWithSender(sender Sender) (EmailService, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	return &emailServiceImpl{
		sender:    sender,
		templates: tmpl,
	}, nil
}

// NotificationData fills templates/notification.html
type NotificationData struct {
	RecipientName string
	KindLabel     string
	Title         string
	Body          string
	CreatedAt     string
	Color         string
}

// SendNotification renders and sends a notification email
func (s *emailServiceImpl) SendNotification(ctx context.Context, to string, data NotificationData) error {
	if data.Color == "" {
		data.Color = "#2563eb"
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, "notification.html", data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return s.sender.Send(ctx, to, data.Title, body.String())
}

// smtpSender sends through net/smtp with retries
type smtpSender struct {
	cfg     config.SMTPConfig
	send    func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	backoff func(attempt int) time.Duration
}

func NewSMTPSender(cfg config.SMTPConfig) Sender {
	return &smtpSender{
		cfg:  cfg,
		send: smtp.SendMail,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<(attempt-1)) * time.Second
		},
	}
}

func (s *smtpSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	// Skip sending if SMTP is not configured
	if s.cfg.Host == "" {
		slog.Warn("SMTP not configured, skipping email send", "to", to, "subject", subject)
		return nil
	}

	from := s.cfg.From

	headers := fmt.Sprintf("From: %s <%s>\r\n", s.cfg.FromName, from)
	headers += fmt.Sprintf("To: %s\r\n", to)
	headers += fmt.Sprintf("Subject: %s\r\n", subject)
	headers += "MIME-Version: 1.0\r\n"
	headers += "Content-Type: text/html; charset=\"UTF-8\"\r\n"
	headers += "\r\n"

	message := []byte(headers + htmlBody)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := s.send(addr, auth, from, []string{to}, message)
		if err == nil {
			slog.Info("Email sent successfully", "to", to, "subject", subject, "attempt", attempt)
			return nil
		}

		lastErr = err
		slog.Error("Failed to send email",
			"to", to,
			"subject", subject,
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err,
		)

		// exponential backoff: 1s, 2s, 4s
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("email send cancelled: %w", ctx.Err())
			case <-time.After(s.backoff(attempt)):
			}
		}
	}

	return fmt.Errorf("failed to send email after %d attempts: %w", maxRetries, lastErr)
}

// resendSender sends through the Resend API
type resendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, fromName, fromEmail string) Sender {
	return &resendSender{
		client: resend.NewClient(apiKey),
		from:   fmt.Sprintf("%s <%s>", fromName, fromEmail),
	}
}

func (s *resendSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Html:    htmlBody,
		Subject: subject,
	}

	sent, err := s.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send email via resend: %w", err)
	}

	slog.Info("Email sent successfully", "to", to, "subject", subject, "provider", "resend", "id", sent.Id)
	return nil
}
