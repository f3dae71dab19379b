package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fitcrm/internal/config"
	"fitcrm/internal/models"
)

func newSchedulerTestEnv(t *testing.T) (*Scheduler, *gorm.DB, *captureSender) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Client{}, &models.Email{}, &models.EmailTemplate{},
		&models.ScheduledTask{}, &models.Settings{},
		&models.AutomationRule{}, &models.AutomationLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	sender := &captureSender{}
	clients := NewClientService(db, logger)
	engine := NewAutomationEngine(db, logger, nil, clients, sender)
	settings := NewSettingsService(db, logger)
	processor := NewEmailProcessor(db, logger, clients, engine)
	inbox := NewInboxService(db, logger, config.EmailConfig{}, settings, processor, nil)

	return NewScheduler(db, logger, inbox, clients, engine, time.Minute), db, sender
}

func pastTime(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}

func futureTime(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func TestRunDueTasksSelectsOnlyDueEnabled(t *testing.T) {
	sched, db, _ := newSchedulerTestEnv(t)
	ctx := context.Background()

	tasks := []models.ScheduledTask{
		{ID: "due", Type: "cleanup", Enabled: true, IntervalMinutes: 30, NextRunAt: pastTime(time.Minute)},
		{ID: "future", Type: "cleanup", Enabled: true, IntervalMinutes: 30, NextRunAt: futureTime(time.Hour)},
		{ID: "disabled", Type: "cleanup", Enabled: false, IntervalMinutes: 30, NextRunAt: pastTime(time.Minute)},
		{ID: "never-run", Type: "cleanup", Enabled: true, IntervalMinutes: 30},
	}
	for i := range tasks {
		if err := db.Create(&tasks[i]).Error; err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}

	sched.RunDueTasks(ctx)

	counts := map[string]int{}
	for _, id := range []string{"due", "future", "disabled", "never-run"} {
		var task models.ScheduledTask
		if err := db.First(&task, "id = ?", id).Error; err != nil {
			t.Fatalf("load task %s: %v", id, err)
		}
		counts[id] = task.RunCount
		if id == "due" && (task.NextRunAt == nil || !task.NextRunAt.After(time.Now())) {
			t.Errorf("due task next run not rescheduled: %v", task.NextRunAt)
		}
	}
	if counts["due"] != 1 || counts["never-run"] != 1 {
		t.Errorf("due tasks not run: %v", counts)
	}
	if counts["future"] != 0 || counts["disabled"] != 0 {
		t.Errorf("non-due tasks were run: %v", counts)
	}
}

func TestCheckEmailsTaskToleratesDisabledIMAP(t *testing.T) {
	sched, db, _ := newSchedulerTestEnv(t)
	ctx := context.Background()

	task := models.ScheduledTask{
		ID: "inbox", Type: "check_emails", Enabled: true,
		IntervalMinutes: 30, NextRunAt: pastTime(time.Minute),
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}

	sched.RunDueTasks(ctx)

	var updated models.ScheduledTask
	if err := db.First(&updated, "id = ?", "inbox").Error; err != nil {
		t.Fatalf("load task: %v", err)
	}
	if updated.RunCount != 1 {
		t.Errorf("run count = %d, want 1", updated.RunCount)
	}
	if updated.ErrorCount != 0 || updated.LastError != "" {
		t.Errorf("disabled IMAP recorded as failure: count=%d err=%q", updated.ErrorCount, updated.LastError)
	}
}

func TestCheckinRemindersGoToActiveSubscribedClients(t *testing.T) {
	sched, db, sender := newSchedulerTestEnv(t)
	ctx := context.Background()

	tpl := models.EmailTemplate{
		ID:          "checkin_reminder",
		Name:        "Weekly Check-in Reminder",
		Subject:     "How was your week, {{client.name}}?",
		TextContent: "Hi {{client.name}}, reply with your weight and notes.",
	}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	seed := []models.Client{
		{ID: "c1", Name: "Active", Email: "active@example.com", Status: "active", EmailNotifications: true},
		{ID: "c2", Name: "OptedOut", Email: "optout@example.com", Status: "active", EmailNotifications: false},
		{ID: "c3", Name: "Pending", Email: "pending@example.com", Status: "pending", EmailNotifications: true},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed client: %v", err)
		}
	}
	// The column defaults to true; an explicit update is needed to
	// store the opt-out.
	if err := db.Model(&models.Client{}).Where("id = ?", "c2").Update("email_notifications", false).Error; err != nil {
		t.Fatalf("opt out client: %v", err)
	}

	task := models.ScheduledTask{
		ID: "reminders", Type: "send_checkin_reminders", Enabled: true,
		IntervalMinutes: 7 * 24 * 60, NextRunAt: pastTime(time.Minute),
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}

	sched.RunDueTasks(ctx)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.messages) != 1 {
		t.Fatalf("messages sent = %d, want 1", len(sender.messages))
	}
	msg := sender.messages[0]
	if msg.To != "active@example.com" {
		t.Errorf("to = %q", msg.To)
	}
	if msg.Subject != "How was your week, Active?" {
		t.Errorf("subject = %q, template not resolved", msg.Subject)
	}

	var logs []models.AutomationLog
	if err := db.Find(&logs).Error; err != nil {
		t.Fatalf("load automation logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("automation logs = %d, want 1", len(logs))
	}
	if logs[0].RuleID != "checkin_reminder_default" || logs[0].Status != "success" {
		t.Errorf("log = %s/%s, want checkin_reminder_default/success", logs[0].RuleID, logs[0].Status)
	}
}

func TestCheckinReminderFailureIsAudited(t *testing.T) {
	sched, db, sender := newSchedulerTestEnv(t)
	ctx := context.Background()
	sender.fail = errors.New("relay down")

	tpl := models.EmailTemplate{
		ID:          "checkin_reminder",
		Name:        "Weekly Check-in Reminder",
		Subject:     "How was your week, {{client.name}}?",
		TextContent: "Hi {{client.name}}, reply with your weight and notes.",
	}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}
	client := models.Client{ID: "c1", Name: "Active", Email: "active@example.com", Status: "active", EmailNotifications: true}
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}
	task := models.ScheduledTask{
		ID: "reminders", Type: "send_checkin_reminders", Enabled: true,
		IntervalMinutes: 7 * 24 * 60, NextRunAt: pastTime(time.Minute),
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}

	sched.RunDueTasks(ctx)

	var logs []models.AutomationLog
	if err := db.Find(&logs).Error; err != nil {
		t.Fatalf("load automation logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("automation logs = %d, want 1", len(logs))
	}
	if logs[0].Status != "failed" {
		t.Errorf("status = %q, want failed", logs[0].Status)
	}
	if len(logs[0].Errors) == 0 {
		t.Error("failed reminder left no error detail")
	}
}

func TestCheckinRemindersPreferUserDefinedRule(t *testing.T) {
	sched, db, sender := newSchedulerTestEnv(t)
	ctx := context.Background()

	rule := models.AutomationRule{
		ID:      "custom-reminder",
		Name:    "custom reminder",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "checkin_reminder"},
		Actions: models.ActionList{
			{Type: "send_email", Params: models.JSONMap{
				"to":      "{{client.email}}",
				"subject": "Custom nudge for {{client.name}}",
				"text":    "check in please",
			}},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	client := models.Client{ID: "c1", Name: "Active", Email: "active@example.com", Status: "active", EmailNotifications: true}
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}
	task := models.ScheduledTask{
		ID: "reminders", Type: "send_checkin_reminders", Enabled: true,
		IntervalMinutes: 7 * 24 * 60, NextRunAt: pastTime(time.Minute),
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}

	sched.RunDueTasks(ctx)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.messages) != 1 {
		t.Fatalf("messages sent = %d, want 1", len(sender.messages))
	}
	if sender.messages[0].Subject != "Custom nudge for Active" {
		t.Errorf("subject = %q", sender.messages[0].Subject)
	}

	var logs []models.AutomationLog
	if err := db.Find(&logs).Error; err != nil {
		t.Fatalf("load automation logs: %v", err)
	}
	if len(logs) != 1 || logs[0].RuleID != "custom-reminder" {
		t.Fatalf("expected one log for the custom rule, got %+v", logs)
	}
}
