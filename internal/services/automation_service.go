package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/models"
)

// AutomationService covers rule management and audit log access; the
// engine handles execution.
type AutomationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger) *AutomationService {
	return &AutomationService{db: db, logger: logger}
}

func (s *AutomationService) ListRules(ctx context.Context) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).Order("created_at asc").Find(&rules).Error
	return rules, err
}

func (s *AutomationService) GetRule(ctx context.Context, id string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (s *AutomationService) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	if rule.Name == "" {
		return errors.New("rule name is required")
	}
	if rule.Trigger.Type == "" {
		return errors.New("trigger type is required")
	}
	if len(rule.Actions) == 0 {
		return errors.New("at least one action is required")
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	s.logger.WithField("rule_id", rule.ID).Info("Automation rule created")
	return nil
}

func (s *AutomationService) UpdateRule(ctx context.Context, id string, patch *models.AutomationRule) (*models.AutomationRule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != "" {
		rule.Name = patch.Name
	}
	if patch.Description != "" {
		rule.Description = patch.Description
	}
	if patch.Trigger.Type != "" {
		rule.Trigger = patch.Trigger
	}
	if patch.Actions != nil {
		rule.Actions = patch.Actions
	}
	rule.Enabled = patch.Enabled

	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	return rule, nil
}

func (s *AutomationService) DeleteRule(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLogs returns execution logs newest first, optionally filtered by
// rule.
func (s *AutomationService) ListLogs(ctx context.Context, ruleID string, limit int) ([]models.AutomationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if ruleID != "" {
		query = query.Where("rule_id = ?", ruleID)
	}
	var logs []models.AutomationLog
	err := query.Find(&logs).Error
	return logs, err
}
