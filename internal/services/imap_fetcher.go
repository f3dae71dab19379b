package services

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"fitcrm/internal/config"
)

// IMAPFetcher pulls unread messages from the trainer's inbox. Each
// FetchUnread call opens a fresh session; the poll interval is long
// enough that connection reuse buys nothing.
type IMAPFetcher struct {
	cfg    config.EmailConfig
	logger *logrus.Logger
}

func NewIMAPFetcher(cfg config.EmailConfig, logger *logrus.Logger) *IMAPFetcher {
	if cfg.IMAPPort == 0 {
		cfg.IMAPPort = 993
	}
	return &IMAPFetcher{cfg: cfg, logger: logger}
}

func (f *IMAPFetcher) FetchUnread(ctx context.Context, limit int) ([]InboundEmail, error) {
	addr := fmt.Sprintf("%s:%d", f.cfg.IMAPHost, f.cfg.IMAPPort)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	defer c.Logout()

	if err := c.Login(f.cfg.IMAPUser, f.cfg.IMAPPassword); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("imap select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var emails []InboundEmail
	for msg := range messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		email := InboundEmail{Date: time.Now()}
		if msg.Envelope != nil {
			email.MessageID = msg.Envelope.MessageId
			email.Subject = msg.Envelope.Subject
			if !msg.Envelope.Date.IsZero() {
				email.Date = msg.Envelope.Date
			}
			if len(msg.Envelope.From) > 0 {
				from := msg.Envelope.From[0]
				if from.PersonalName != "" {
					email.From = fmt.Sprintf("%s <%s>", from.PersonalName, from.Address())
				} else {
					email.From = from.Address()
				}
			}
		}
		if body := msg.GetBody(section); body != nil {
			email.Body = readBody(body)
		}
		emails = append(emails, email)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	f.logger.WithField("count", len(emails)).Debug("Fetched unread emails")
	return emails, nil
}

func readBody(r io.Reader) string {
	m, err := mail.ReadMessage(r)
	if err != nil {
		raw, _ := io.ReadAll(r)
		return string(raw)
	}
	body, err := io.ReadAll(m.Body)
	if err != nil {
		return ""
	}
	return string(body)
}
