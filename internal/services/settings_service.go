package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/config"
	"fitcrm/internal/models"
)

const settingsID = "global"

// SettingsService owns the single trainer-editable settings document.
// Values stored there override file configuration at the points that
// read them.
type SettingsService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewSettingsService(db *gorm.DB, logger *logrus.Logger) *SettingsService {
	return &SettingsService{db: db, logger: logger}
}

// Get returns the settings document, creating an empty one on first
// access.
func (s *SettingsService) Get(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := s.db.WithContext(ctx).First(&settings, "id = ?", settingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = models.Settings{
			ID:         settingsID,
			Email:      models.JSONMap{},
			AI:         models.JSONMap{},
			Automation: models.JSONMap{},
			Business:   models.JSONMap{},
		}
		if err := s.db.WithContext(ctx).Create(&settings).Error; err != nil {
			return nil, err
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// Update merges the provided sections into the stored document.
// Sections absent from the patch are left untouched; keys within a
// patched section overwrite individually.
func (s *SettingsService) Update(ctx context.Context, patch models.JSONMap) (*models.Settings, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	merge := func(dst models.JSONMap, key string) models.JSONMap {
		section := asDocument(patch[key])
		if section == nil {
			return dst
		}
		if dst == nil {
			dst = models.JSONMap{}
		}
		for k, v := range section {
			// Redacted secrets round-tripped from the UI must not
			// clobber the stored value.
			if s, ok := v.(string); ok && s == "********" {
				continue
			}
			dst[k] = v
		}
		return dst
	}

	settings.Email = merge(settings.Email, "email")
	settings.AI = merge(settings.AI, "ai")
	settings.Automation = merge(settings.Automation, "automation")
	settings.Business = merge(settings.Business, "business")
	settings.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(settings).Error; err != nil {
		return nil, err
	}
	s.logger.Info("Settings updated")
	return settings, nil
}

// AutomationFlag reads a boolean knob from the automation section,
// falling back to the supplied default when unset.
func (s *SettingsService) AutomationFlag(ctx context.Context, key string, fallback bool) bool {
	settings, err := s.Get(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Settings unavailable, using config default")
		return fallback
	}
	if v, ok := settings.Automation[key].(bool); ok {
		return v
	}
	return fallback
}

// EffectiveEmailConfig overlays stored email settings on the file
// config.
func (s *SettingsService) EffectiveEmailConfig(ctx context.Context, base config.EmailConfig) config.EmailConfig {
	settings, err := s.Get(ctx)
	if err != nil {
		return base
	}
	section := settings.Email

	if v, ok := section["imapEnabled"].(bool); ok {
		base.IMAPEnabled = v
	}
	if v, ok := section["imapHost"].(string); ok && v != "" {
		base.IMAPHost = v
	}
	if v, ok := toFloat(section["imapPort"]); ok && v > 0 {
		base.IMAPPort = int(v)
	}
	if v, ok := section["imapUser"].(string); ok && v != "" {
		base.IMAPUser = v
	}
	if v, ok := section["imapPassword"].(string); ok && v != "" {
		base.IMAPPassword = v
	}
	if v, ok := section["smtpHost"].(string); ok && v != "" {
		base.SMTPHost = v
	}
	if v, ok := toFloat(section["smtpPort"]); ok && v > 0 {
		base.SMTPPort = int(v)
	}
	if v, ok := section["smtpUser"].(string); ok && v != "" {
		base.SMTPUser = v
	}
	if v, ok := section["smtpPassword"].(string); ok && v != "" {
		base.SMTPPassword = v
	}
	if v, ok := section["replyTo"].(string); ok && v != "" {
		base.ReplyTo = v
	}
	return base
}
