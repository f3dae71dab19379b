package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fitcrm/internal/models"
)

type captureSender struct {
	mu       sync.Mutex
	messages []Message
	fail     error
}

func (s *captureSender) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.messages = append(s.messages, msg)
	return nil
}

func newEngineTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Client{}, &models.TrainingPlan{}, &models.NutritionPlan{},
		&models.ProgressEntry{}, &models.EmailTemplate{},
		&models.AutomationRule{}, &models.AutomationLog{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T, db *gorm.DB, sender Sender) *AutomationEngine {
	t.Helper()
	logger := logrus.New()
	clients := NewClientService(db, logger)
	return NewAutomationEngine(db, logger, nil, clients, sender)
}

func boolPtr(b bool) *bool { return &b }

func TestEvaluateTrigger(t *testing.T) {
	tests := []struct {
		name    string
		trigger models.RuleTrigger
		event   Event
		want    bool
	}{
		{
			name:    "type mismatch",
			trigger: models.RuleTrigger{Type: "questionnaire_received"},
			event:   Event{Type: "progress_submitted"},
			want:    false,
		},
		{
			name:    "type match no conditions",
			trigger: models.RuleTrigger{Type: "questionnaire_received"},
			event:   Event{Type: "questionnaire_received", Data: models.JSONMap{"category": "questionnaire"}},
			want:    true,
		},
		{
			name: "equality match",
			trigger: models.RuleTrigger{
				Type:       "questionnaire_received",
				Conditions: models.JSONMap{"category": "questionnaire"},
			},
			event: Event{Type: "questionnaire_received", Data: models.JSONMap{"category": "questionnaire"}},
			want:  true,
		},
		{
			name: "equality mismatch",
			trigger: models.RuleTrigger{
				Type:       "questionnaire_received",
				Conditions: models.JSONMap{"category": "questionnaire"},
			},
			event: Event{Type: "questionnaire_received", Data: models.JSONMap{"category": "progress_update"}},
			want:  false,
		},
		{
			name: "contains is case-insensitive",
			trigger: models.RuleTrigger{
				Type:       "email_received",
				Conditions: models.JSONMap{"subject_contains": "urgent"},
			},
			event: Event{Type: "email_received", Data: models.JSONMap{"subject": "URGENT: knee pain"}},
			want:  true,
		},
		{
			name: "contains mismatch",
			trigger: models.RuleTrigger{
				Type:       "email_received",
				Conditions: models.JSONMap{"subject_contains": "urgent"},
			},
			event: Event{Type: "email_received", Data: models.JSONMap{"subject": "weekly check-in"}},
			want:  false,
		},
		{
			name: "greater-than passes",
			trigger: models.RuleTrigger{
				Type:       "progress_submitted",
				Conditions: models.JSONMap{"weight_gt": float64(80)},
			},
			event: Event{Type: "progress_submitted", Data: models.JSONMap{"weight": float64(85)}},
			want:  true,
		},
		{
			name: "greater-than boundary is exclusive",
			trigger: models.RuleTrigger{
				Type:       "progress_submitted",
				Conditions: models.JSONMap{"weight_gt": float64(80)},
			},
			event: Event{Type: "progress_submitted", Data: models.JSONMap{"weight": float64(80)}},
			want:  false,
		},
		{
			name: "less-than passes",
			trigger: models.RuleTrigger{
				Type:       "progress_submitted",
				Conditions: models.JSONMap{"compliance_lt": float64(70)},
			},
			event: Event{Type: "progress_submitted", Data: models.JSONMap{"compliance": float64(65)}},
			want:  true,
		},
		{
			name: "less-than fails above limit",
			trigger: models.RuleTrigger{
				Type:       "progress_submitted",
				Conditions: models.JSONMap{"compliance_lt": float64(70)},
			},
			event: Event{Type: "progress_submitted", Data: models.JSONMap{"compliance": float64(75)}},
			want:  false,
		},
		{
			name: "numeric string coerces",
			trigger: models.RuleTrigger{
				Type:       "progress_submitted",
				Conditions: models.JSONMap{"compliance_lt": float64(70)},
			},
			event: Event{Type: "progress_submitted", Data: models.JSONMap{"compliance": "65"}},
			want:  true,
		},
		{
			name: "missing field never matches",
			trigger: models.RuleTrigger{
				Type:       "progress_submitted",
				Conditions: models.JSONMap{"compliance_lt": float64(70)},
			},
			event: Event{Type: "progress_submitted", Data: models.JSONMap{}},
			want:  false,
		},
		{
			name: "nested path condition",
			trigger: models.RuleTrigger{
				Type:       "progress_submitted",
				Conditions: models.JSONMap{"client.status": "active"},
			},
			event: Event{Type: "progress_submitted", Data: models.JSONMap{
				"client": map[string]interface{}{"status": "active"},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &models.AutomationRule{Trigger: tt.trigger}
			if got := EvaluateTrigger(rule, tt.event); got != tt.want {
				t.Fatalf("EvaluateTrigger() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTriggerEvent_SuccessRunsAllActions(t *testing.T) {
	db := newEngineTestDB(t)
	sender := &captureSender{}
	engine := newTestEngine(t, db, sender)

	rule := models.AutomationRule{
		ID:      "r1",
		Name:    "notify",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "progress_submitted"},
		Actions: models.ActionList{
			{Type: "log", Params: models.JSONMap{"message": "progress from {{client.name}}"}},
			{Type: "send_email", Params: models.JSONMap{
				"to":      "{{client.email}}",
				"subject": "Nice work {{client.name}}",
				"text":    "Keep going",
			}},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	logs, err := engine.TriggerEvent(context.Background(), Event{
		Type: "progress_submitted",
		Data: models.JSONMap{"client": map[string]interface{}{"name": "Jane", "email": "jane@example.com"}},
	})
	if err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	log := logs[0]
	if log.Status != "success" {
		t.Fatalf("status = %s, want success", log.Status)
	}
	if len(log.Actions) != 2 {
		t.Fatalf("expected 2 action entries, got %d", len(log.Actions))
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sender.messages))
	}
	if sender.messages[0].To != "jane@example.com" {
		t.Fatalf("template not resolved in params: to = %s", sender.messages[0].To)
	}
	if sender.messages[0].Subject != "Nice work Jane" {
		t.Fatalf("subject = %s", sender.messages[0].Subject)
	}

	// The log must also be persisted.
	var count int64
	db.Model(&models.AutomationLog{}).Count(&count)
	if count != 1 {
		t.Fatalf("persisted logs = %d, want 1", count)
	}

	var stored models.AutomationRule
	if err := db.First(&stored, "id = ?", "r1").Error; err != nil {
		t.Fatalf("reload rule: %v", err)
	}
	if stored.ExecutionCount != 1 {
		t.Fatalf("execution count = %d, want 1", stored.ExecutionCount)
	}
}

func TestTriggerEvent_CriticalFailureAborts(t *testing.T) {
	db := newEngineTestDB(t)
	sender := &captureSender{fail: errors.New("relay down")}
	engine := newTestEngine(t, db, sender)

	rule := models.AutomationRule{
		ID:      "r1",
		Name:    "critical chain",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "progress_submitted"},
		Actions: models.ActionList{
			{Type: "send_email", Params: models.JSONMap{"to": "x@y.z", "subject": "s"}},
			{Type: "log", Params: models.JSONMap{"message": "never runs"}},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	logs, err := engine.TriggerEvent(context.Background(), Event{Type: "progress_submitted", Data: models.JSONMap{}})
	if err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	log := logs[0]
	if log.Status != "failed" {
		t.Fatalf("status = %s, want failed", log.Status)
	}
	if len(log.Actions) != 1 {
		t.Fatalf("execution should stop at the failed critical action, got %d entries", len(log.Actions))
	}
	if len(log.Errors) != 1 {
		t.Fatalf("errors = %v", log.Errors)
	}

	var stored models.AutomationRule
	if err := db.First(&stored, "id = ?", "r1").Error; err != nil {
		t.Fatalf("reload rule: %v", err)
	}
	if stored.ErrorCount != 1 {
		t.Fatalf("error count = %d, want 1", stored.ErrorCount)
	}
}

func TestTriggerEvent_NonCriticalFailureContinues(t *testing.T) {
	db := newEngineTestDB(t)
	sender := &captureSender{fail: errors.New("relay down")}
	engine := newTestEngine(t, db, sender)

	rule := models.AutomationRule{
		ID:      "r1",
		Name:    "best effort chain",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "progress_submitted"},
		Actions: models.ActionList{
			{Type: "send_email", Critical: boolPtr(false), Params: models.JSONMap{"to": "x@y.z"}},
			{Type: "log", Params: models.JSONMap{"message": "still runs"}},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	logs, err := engine.TriggerEvent(context.Background(), Event{Type: "progress_submitted", Data: models.JSONMap{}})
	if err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}
	log := logs[0]
	if log.Status != "partial" {
		t.Fatalf("status = %s, want partial", log.Status)
	}
	if len(log.Actions) != 2 {
		t.Fatalf("both actions should be recorded, got %d", len(log.Actions))
	}
	if log.Actions[0].Status != "failed" || log.Actions[1].Status != "success" {
		t.Fatalf("action statuses = %s, %s", log.Actions[0].Status, log.Actions[1].Status)
	}
	if _, ok := log.Results["log"]; !ok {
		t.Fatalf("successful action result missing from Results: %v", log.Results)
	}
}

func TestTriggerEvent_UnknownActionType(t *testing.T) {
	db := newEngineTestDB(t)
	engine := newTestEngine(t, db, &captureSender{})

	rule := models.AutomationRule{
		ID:      "r1",
		Name:    "bad action",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "progress_submitted"},
		Actions: models.ActionList{
			{Type: "summon_unicorn"},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	logs, err := engine.TriggerEvent(context.Background(), Event{Type: "progress_submitted", Data: models.JSONMap{}})
	if err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}
	if logs[0].Status != "failed" {
		t.Fatalf("status = %s, want failed", logs[0].Status)
	}
}

func TestTriggerEvent_SkipsDisabledAndNonMatching(t *testing.T) {
	db := newEngineTestDB(t)
	sender := &captureSender{}
	engine := newTestEngine(t, db, sender)

	rules := []models.AutomationRule{
		{
			ID: "disabled", Name: "disabled", Enabled: false,
			Trigger: models.RuleTrigger{Type: "progress_submitted"},
			Actions: models.ActionList{{Type: "log"}},
		},
		{
			ID: "other-type", Name: "other", Enabled: true,
			Trigger: models.RuleTrigger{Type: "questionnaire_received"},
			Actions: models.ActionList{{Type: "log"}},
		},
		{
			ID: "matching", Name: "matching", Enabled: true,
			Trigger: models.RuleTrigger{Type: "progress_submitted"},
			Actions: models.ActionList{{Type: "log"}},
		},
	}
	for i := range rules {
		if err := db.Create(&rules[i]).Error; err != nil {
			t.Fatalf("create rule: %v", err)
		}
	}

	logs, err := engine.TriggerEvent(context.Background(), Event{Type: "progress_submitted", Data: models.JSONMap{}})
	if err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}
	if len(logs) != 1 || logs[0].RuleID != "matching" {
		t.Fatalf("expected only the matching enabled rule to run, got %d logs", len(logs))
	}
}

func TestExecContextCarriesActionResults(t *testing.T) {
	db := newEngineTestDB(t)
	sender := &captureSender{}
	engine := newTestEngine(t, db, sender)

	client := models.Client{ID: "c1", Name: "Jane", Email: "jane@example.com", Status: "pending"}
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}

	rule := models.AutomationRule{
		ID:      "r1",
		Name:    "activate then notify",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "questionnaire_received"},
		Actions: models.ActionList{
			{Type: "activate_client", Params: models.JSONMap{"clientId": "{{clientId}}"}},
			{Type: "send_email", Params: models.JSONMap{
				"to":      "{{client.email}}",
				"subject": "Welcome aboard",
			}},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	logs, err := engine.TriggerEvent(context.Background(), Event{
		Type: "questionnaire_received",
		Data: models.JSONMap{"clientId": "c1"},
	})
	if err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}
	if logs[0].Status != "success" {
		t.Fatalf("status = %s: %v", logs[0].Status, logs[0].Errors)
	}

	// The activate_client step sets "client" in the execution context,
	// so the follow-up email resolves against the live record.
	if len(sender.messages) != 1 || sender.messages[0].To != "jane@example.com" {
		t.Fatalf("messages = %+v", sender.messages)
	}

	var stored models.Client
	if err := db.First(&stored, "id = ?", "c1").Error; err != nil {
		t.Fatalf("reload client: %v", err)
	}
	if stored.Status != "active" {
		t.Fatalf("client status = %s, want active", stored.Status)
	}
}

func TestCreateClientActionRoundTrip(t *testing.T) {
	db := newEngineTestDB(t)
	engine := newTestEngine(t, db, &captureSender{})

	rule := models.AutomationRule{
		ID:      "r-create",
		Name:    "intake",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "web_form_submitted"},
		Actions: models.ActionList{
			{Type: "create_client", Params: models.JSONMap{
				"name":   "{{form.name}}",
				"email":  "{{form.email}}",
				"goal":   "{{form.goal}}",
				"source": "web_form",
			}},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	logs, err := engine.TriggerEvent(context.Background(), Event{
		Type: "web_form_submitted",
		Data: models.JSONMap{"form": map[string]interface{}{
			"name":  "Peter Novak",
			"email": "peter@example.com",
			"goal":  "muscle gain",
		}},
	})
	if err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != "success" {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	result, ok := logs[0].Results["create_client"].(models.JSONMap)
	if !ok {
		t.Fatalf("missing create_client result: %v", logs[0].Results)
	}
	id, _ := result["clientId"].(string)
	if id == "" {
		t.Fatal("no clientId in result")
	}

	var stored models.Client
	if err := db.First(&stored, "id = ?", id).Error; err != nil {
		t.Fatalf("fetch created client: %v", err)
	}
	if stored.Name != "Peter Novak" || stored.Email != "peter@example.com" || stored.Goal != "muscle gain" {
		t.Errorf("round trip mismatch: %+v", stored)
	}
	if stored.Source != "web_form" || stored.Status != "pending" {
		t.Errorf("defaults not applied: source=%s status=%s", stored.Source, stored.Status)
	}
}

func TestActionParamsSeePreviousResults(t *testing.T) {
	db := newEngineTestDB(t)
	sender := &captureSender{}
	engine := newTestEngine(t, db, sender)

	rule := models.AutomationRule{
		ID:      "r-chain",
		Name:    "intake and welcome",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "web_form_submitted"},
		Actions: models.ActionList{
			{Type: "create_client", Params: models.JSONMap{
				"name":  "{{form.name}}",
				"email": "{{form.email}}",
			}},
			{Type: "send_email", Params: models.JSONMap{
				"to":      "{{client.email}}",
				"subject": "id={{previousResults.create_client.clientId}}",
				"text":    "welcome",
			}},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	logs, err := engine.TriggerEvent(context.Background(), Event{
		Type: "web_form_submitted",
		Data: models.JSONMap{"form": map[string]interface{}{
			"name":  "Jane",
			"email": "jane@example.com",
		}},
	})
	if err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != "success" {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	var client models.Client
	if err := db.First(&client, "email = ?", "jane@example.com").Error; err != nil {
		t.Fatalf("created client: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sender.messages))
	}
	if got, want := sender.messages[0].Subject, "id="+client.ID; got != want {
		t.Fatalf("subject = %q, want %q", got, want)
	}
}
