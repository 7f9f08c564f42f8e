package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// EmailSender sends one email. SendGrid and SES implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

const defaultFromName = "Roleplay"

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return errors.New("notify: sendgrid client not configured")
	}
	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = msg.Body
	}
	message := mail.NewSingleEmail(mail.NewEmail(s.fromName, s.fromEmail), msg.Subject, mail.NewEmail(msg.ToName, msg.To), msg.Body, htmlBody)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("notify: sendgrid rejected email", "status", response.StatusCode, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}
	s.logger.Debug("notify: email sent via sendgrid", "to", msg.To, "status", response.StatusCode)
	return nil
}

// StubEmailSender logs instead of sending.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a sender that logs instead of mailing.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("notify: stub email", "to", msg.To, "subject", msg.Subject)
	return nil
}

// EmailDispatcher mails each notification to a fixed staff list, minus
// the sender's own address when Exclude can resolve it.
type EmailDispatcher struct {
	sender     EmailSender
	recipients []string
	exclude    func(ctx context.Context, senderID string) string
}

// NewEmailDispatcher mails every notification to recipients through sender.
func NewEmailDispatcher(sender EmailSender, recipients []string) *EmailDispatcher {
	if sender == nil {
		panic("notify: email sender required")
	}
	return &EmailDispatcher{sender: sender, recipients: recipients}
}

// Exclude registers a lookup from sender id to that sender's email address.
func (d *EmailDispatcher) Exclude(fn func(ctx context.Context, senderID string) string) *EmailDispatcher {
	d.exclude = fn
	return d
}

func (d *EmailDispatcher) NotifyExcept(ctx context.Context, senderID, title, body, locationKey string) error {
	n := Notification{SenderID: senderID, Title: title, Body: body, LocationKey: locationKey}
	if err := n.validate(); err != nil {
		return err
	}
	skip := ""
	if d.exclude != nil {
		skip = strings.ToLower(strings.TrimSpace(d.exclude(ctx, senderID)))
	}
	msg := renderEmail(n)

	var errs []error
	for _, to := range d.recipients {
		if skip != "" && strings.EqualFold(strings.TrimSpace(to), skip) {
			continue
		}
		msg.To = to
		if err := d.sender.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify: email %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func renderEmail(n Notification) EmailMessage {
	where := n.LocationKey
	if where == "" {
		where = "geral"
	}
	subject := fmt.Sprintf("Nova mensagem em %s: %s", where, n.Title)
	text := fmt.Sprintf("%s\n\n%s", n.Title, n.Body)
	markup := fmt.Sprintf("<p><strong>%s</strong></p><p>%s</p><p style=\"color:#6b7280;font-size:12px\">%s</p>",
		html.EscapeString(n.Title), html.EscapeString(n.Body), html.EscapeString(where))
	return EmailMessage{Subject: subject, Body: text, HTML: markup}
}
