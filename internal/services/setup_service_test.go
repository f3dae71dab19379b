package services

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fitcrm/internal/models"
)

func newSetupTestService(t *testing.T) (*SetupService, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Client{}, &models.ProgressEntry{},
		&models.AutomationRule{}, &models.EmailTemplate{}, &models.ScheduledTask{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	clients := NewClientService(db, logger)
	return NewSetupService(db, logger, clients), db
}

func TestSetupRunSeedsDefaults(t *testing.T) {
	svc, db := newSetupTestService(t)
	ctx := context.Background()

	result, err := svc.Run(ctx, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.AutomationRules != 3 {
		t.Errorf("automation rules = %d, want 3", result.AutomationRules)
	}
	if result.EmailTemplates != 3 {
		t.Errorf("email templates = %d, want 3", result.EmailTemplates)
	}
	if result.ScheduledTasks != 2 {
		t.Errorf("scheduled tasks = %d, want 2", result.ScheduledTasks)
	}
	if result.SampleClients != 0 {
		t.Errorf("sample clients = %d, want 0 without --sample", result.SampleClients)
	}

	var rule models.AutomationRule
	if err := db.First(&rule, "name = ?", "New Client Onboarding").Error; err != nil {
		t.Fatalf("onboarding rule: %v", err)
	}
	if !rule.Enabled {
		t.Error("onboarding rule should be enabled")
	}
	if rule.Trigger.Type != "questionnaire_received" {
		t.Errorf("trigger type = %q", rule.Trigger.Type)
	}
	if len(rule.Actions) != 4 {
		t.Errorf("onboarding actions = %d, want 4", len(rule.Actions))
	}

	var tpl models.EmailTemplate
	if err := db.First(&tpl, "id = ?", "welcome").Error; err != nil {
		t.Fatalf("welcome template: %v", err)
	}

	var task models.ScheduledTask
	if err := db.First(&task, "type = ?", "check_emails").Error; err != nil {
		t.Fatalf("check_emails task: %v", err)
	}
	if task.Enabled {
		t.Error("check_emails should be disabled until IMAP is configured")
	}
	if task.NextRunAt == nil {
		t.Error("NextRunAt should be scheduled")
	}
}

func TestSetupRunIsIdempotent(t *testing.T) {
	svc, db := newSetupTestService(t)
	ctx := context.Background()

	if _, err := svc.Run(ctx, true); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.Run(ctx, true)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.AutomationRules != 0 || second.EmailTemplates != 0 || second.ScheduledTasks != 0 || second.SampleClients != 0 {
		t.Errorf("second run created records: %+v", second)
	}

	var count int64
	db.Model(&models.AutomationRule{}).Count(&count)
	if count != 3 {
		t.Errorf("rules in db = %d, want 3", count)
	}
	db.Model(&models.Client{}).Count(&count)
	if count != 1 {
		t.Errorf("sample clients in db = %d, want 1", count)
	}
}

func TestSetupSampleDataSeedsClientWithProgress(t *testing.T) {
	svc, db := newSetupTestService(t)
	ctx := context.Background()

	result, err := svc.Run(ctx, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.SampleClients != 1 {
		t.Fatalf("sample clients = %d, want 1", result.SampleClients)
	}

	var client models.Client
	if err := db.First(&client, "email = ?", "john.doe@example.com").Error; err != nil {
		t.Fatalf("sample client: %v", err)
	}
	if client.Status != "active" {
		t.Errorf("status = %q, want active", client.Status)
	}

	var entries []models.ProgressEntry
	if err := db.Find(&entries, "client_id = ?", client.ID).Error; err != nil {
		t.Fatalf("progress entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("progress entries = %d, want 1", len(entries))
	}
	if entries[0].WeekNumber != 1 {
		t.Errorf("week = %d, want 1", entries[0].WeekNumber)
	}
}
