package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fitcrm/internal/config"
)

// Message is an outbound email.
type Message struct {
	To       string
	Subject  string
	Text     string
	HTML     string
	FromName string
	ReplyTo  string
}

// Sender delivers outbound mail. Handlers and the automation engine
// depend on this interface so tests can capture messages instead of
// hitting a real relay.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// InboundEmail is a raw message pulled from the trainer's inbox before
// classification.
type InboundEmail struct {
	MessageID string
	From      string
	Subject   string
	Body      string
	Date      time.Time
}

// MailFetcher pulls unread messages from the configured inbox.
type MailFetcher interface {
	FetchUnread(ctx context.Context, limit int) ([]InboundEmail, error)
}

// SMTPSender sends mail over a plain SMTP relay using the credentials
// from the email config section.
type SMTPSender struct {
	cfg    config.EmailConfig
	logger *logrus.Logger
}

func NewSMTPSender(cfg config.EmailConfig, logger *logrus.Logger) (*SMTPSender, error) {
	if cfg.SMTPHost == "" || cfg.SMTPUser == "" {
		return nil, errors.New("smtp host and user must be configured")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	return &SMTPSender{cfg: cfg, logger: logger}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := s.cfg.SMTPUser
	headerFrom := from
	if msg.FromName != "" {
		headerFrom = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.FromName), from)
	}
	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = s.cfg.ReplyTo
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", headerFrom)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	if replyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML != "" {
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(msg.HTML)
	} else {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(msg.Text)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := smtp.SendMail(addr, auth, from, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Email sent")
	return nil
}

// DisabledSender fails every send with a configuration hint. Used
// when no SMTP relay is configured so automation logs show a clear
// cause instead of a connection error.
type DisabledSender struct{}

func (DisabledSender) Send(ctx context.Context, msg Message) error {
	return errors.New("smtp is not configured")
}

// ErrFetchingDisabled is returned when inbox polling is attempted
// without IMAP enabled in settings.
var ErrFetchingDisabled = errors.New("imap fetching is not enabled")

// NewMailFetcher builds a fetcher from the current email settings. It
// fails when IMAP is disabled so callers can surface a clear client
// error instead of silently polling nothing.
func NewMailFetcher(cfg config.EmailConfig, logger *logrus.Logger) (MailFetcher, error) {
	if !cfg.IMAPEnabled || cfg.IMAPHost == "" {
		return nil, ErrFetchingDisabled
	}
	return NewIMAPFetcher(cfg, logger), nil
}
