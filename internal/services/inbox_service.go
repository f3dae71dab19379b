package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/config"
)

// FetcherFactory builds a MailFetcher for the effective email config.
// Swappable in tests.
type FetcherFactory func(cfg config.EmailConfig, logger *logrus.Logger) (MailFetcher, error)

// CheckResult summarizes one inbox poll.
type CheckResult struct {
	EmailsChecked            int             `json:"emailsChecked"`
	Processed                int             `json:"processed"`
	AutomationRulesTriggered int             `json:"automationRulesTriggered"`
	Results                  []ProcessResult `json:"results"`
}

// InboxService orchestrates one inbox check: fetch unread messages,
// run each through the processor, then fire the follow-up automation
// events.
type InboxService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	baseConfig config.EmailConfig
	settings   *SettingsService
	processor  *EmailProcessor
	newFetcher FetcherFactory
}

func NewInboxService(db *gorm.DB, logger *logrus.Logger, baseConfig config.EmailConfig, settings *SettingsService, processor *EmailProcessor, newFetcher FetcherFactory) *InboxService {
	if newFetcher == nil {
		newFetcher = NewMailFetcher
	}
	return &InboxService{
		db:         db,
		logger:     logger,
		baseConfig: baseConfig,
		settings:   settings,
		processor:  processor,
		newFetcher: newFetcher,
	}
}

// CheckEmails polls the inbox and processes whatever it finds. Returns
// ErrFetchingDisabled when IMAP is not configured.
func (s *InboxService) CheckEmails(ctx context.Context, limit int) (*CheckResult, error) {
	cfg := s.settings.EffectiveEmailConfig(ctx, s.baseConfig)

	fetcher, err := s.newFetcher(cfg, s.logger)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}
	emails, err := fetcher.FetchUnread(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("count", len(emails)).Info("Inbox check found new emails")

	results := s.processor.ProcessBatch(ctx, emails)
	triggered := s.processor.TriggerAutomations(ctx, results)

	return &CheckResult{
		EmailsChecked:            len(emails),
		Processed:                len(results),
		AutomationRulesTriggered: triggered,
		Results:                  results,
	}, nil
}
