package services

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fitcrm/internal/models"
)

func newProcessorTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Client{}, &models.Questionnaire{}, &models.ProgressEntry{},
		&models.Email{}, &models.EmailTemplate{},
		&models.AutomationRule{}, &models.AutomationLog{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newTestProcessor(t *testing.T, db *gorm.DB) *EmailProcessor {
	t.Helper()
	logger := logrus.New()
	clients := NewClientService(db, logger)
	engine := NewAutomationEngine(db, logger, nil, clients, &captureSender{})
	return NewEmailProcessor(db, logger, clients, engine)
}

func TestClassifyEmail(t *testing.T) {
	tests := []struct {
		name         string
		subject      string
		body         string
		wantCategory string
		wantPriority string
	}{
		{"questionnaire english", "New Client Questionnaire", "Name: Jane", CategoryQuestionnaire, "high"},
		{"questionnaire slovak", "Dotazník", "Meno: Jana", CategoryQuestionnaire, "high"},
		{"onboarding subject", "Getting started", "hello", CategoryQuestionnaire, "high"},
		{"progress english", "Weekly check-in", "Weight: 180 lbs", CategoryProgressUpdate, "normal"},
		{"progress slovak", "Môj pokrok", "dobre to ide", CategoryProgressUpdate, "normal"},
		{"weight keyword in body", "hello", "my weight went down", CategoryProgressUpdate, "normal"},
		{"urgent question", "URGENT", "I have knee pain", CategoryQuestion, "high"},
		{"injury raises priority", "hello", "I think I have an injury", CategoryQuestion, "high"},
		{"plain question", "Quick thing", "what shoes should I buy", CategoryQuestion, "normal"},
		{"questionnaire beats progress", "Questionnaire", "Weight: 180", CategoryQuestionnaire, "high"},
		{"progress beats urgent", "check-in", "pain in my shoulder", CategoryProgressUpdate, "normal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, priority := ClassifyEmail(tt.subject, tt.body)
			if category != tt.wantCategory || priority != tt.wantPriority {
				t.Fatalf("ClassifyEmail() = (%s, %s), want (%s, %s)",
					category, priority, tt.wantCategory, tt.wantPriority)
			}
		})
	}
}

func TestExtractEmailAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Jane Doe <jane@example.com>", "jane@example.com"},
		{"jane@example.com", "jane@example.com"},
		{"<bare@example.com>", "bare@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractEmailAddress(tt.in); got != tt.want {
			t.Fatalf("ExtractEmailAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseQuestionnaire(t *testing.T) {
	body := `Hi coach!

Name: Jana Nováková
Age: 28
Weight: 68.5 kg
Height: 168 cm
Goal: schudnúť 5 kg
Experience: beginner
Injuries: knee, lower back
Equipment: dumbbells; resistance bands
Days available: Monday, Wednesday, Friday
Dietary restrictions: lactose intolerant
`
	form := ParseQuestionnaire(body)

	if form["name"] != "Jana Nováková" {
		t.Fatalf("name = %v", form["name"])
	}
	if form["age"] != "28" {
		t.Fatalf("age = %v", form["age"])
	}
	if form["weight"] != "68.5" {
		t.Fatalf("weight = %v", form["weight"])
	}
	if form["height"] != "168" {
		t.Fatalf("height = %v", form["height"])
	}
	if form["goal"] != "schudnúť 5 kg" {
		t.Fatalf("goal = %v", form["goal"])
	}

	data := ExtractClientData(form)
	if data["age"] != 28 {
		t.Fatalf("age should be numeric: %v", data["age"])
	}
	if data["currentWeight"] != 68.5 {
		t.Fatalf("currentWeight = %v", data["currentWeight"])
	}
	injuries, ok := data["injuries"].([]interface{})
	if !ok || len(injuries) != 2 || injuries[0] != "knee" || injuries[1] != "lower back" {
		t.Fatalf("injuries = %v", data["injuries"])
	}
	days, ok := data["availableDays"].([]interface{})
	if !ok || len(days) != 3 || days[0] != "monday" {
		t.Fatalf("availableDays should be lowercased: %v", data["availableDays"])
	}
	equipment, ok := data["equipment"].([]interface{})
	if !ok || len(equipment) != 2 {
		t.Fatalf("equipment = %v", data["equipment"])
	}
}

func TestParseQuestionnaireSlovakLabels(t *testing.T) {
	body := `Meno: Peter Kováč
Vek: 35
Váha: 90 kg
Výška: 182 cm
Cieľ: nabrať svaly
`
	form := ParseQuestionnaire(body)
	if form["name"] != "Peter Kováč" || form["age"] != "35" || form["goal"] != "nabrať svaly" {
		t.Fatalf("slovak labels not recognized: %v", form)
	}
}

func TestParseProgressUpdate(t *testing.T) {
	body := `Weekly check-in!

Weight: 178.5 lbs
Body fat: 15.2%
Energy: 7/10
Sleep: 8/10
Compliance: 85%
Notes: Felt strong this week,
slept better than usual.`

	data := ParseProgressUpdate(body)

	if data["weight"] != 178.5 {
		t.Fatalf("weight = %v", data["weight"])
	}
	if data["bodyFatPct"] != 15.2 {
		t.Fatalf("bodyFatPct = %v", data["bodyFatPct"])
	}
	if data["energyLevel"] != 7 {
		t.Fatalf("energyLevel = %v", data["energyLevel"])
	}
	if data["sleepQuality"] != 8 {
		t.Fatalf("sleepQuality = %v", data["sleepQuality"])
	}
	if data["compliance"] != 85 {
		t.Fatalf("compliance = %v", data["compliance"])
	}
	notes, _ := data["notes"].(string)
	if notes == "" || notes[:21] != "Felt strong this week" {
		t.Fatalf("notes = %q", notes)
	}

	empty := ParseProgressUpdate("just wanted to say hi")
	if len(empty) != 0 {
		t.Fatalf("expected no fields, got %v", empty)
	}
}

func TestProcessEmail_QuestionnaireCreatesClient(t *testing.T) {
	db := newProcessorTestDB(t)
	processor := newTestProcessor(t, db)
	ctx := context.Background()

	result, err := processor.ProcessEmail(ctx, InboundEmail{
		MessageID: "m1",
		From:      "Jana <jana@example.com>",
		Subject:   "New client questionnaire",
		Body: `Name: Jana Nováková
Age: 28
Goal: weight loss`,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Category != CategoryQuestionnaire {
		t.Fatalf("category = %s", result.Category)
	}
	if result.ClientID == "" {
		t.Fatal("expected a created client id")
	}

	var client models.Client
	if err := db.First(&client, "id = ?", result.ClientID).Error; err != nil {
		t.Fatalf("load client: %v", err)
	}
	if client.Email != "jana@example.com" || client.Name != "Jana Nováková" {
		t.Fatalf("client = %+v", client)
	}
	if client.Source != "email_questionnaire" || client.Status != "pending" {
		t.Fatalf("client source/status = %s/%s", client.Source, client.Status)
	}

	var questionnaire models.Questionnaire
	if err := db.First(&questionnaire, "client_id = ?", client.ID).Error; err != nil {
		t.Fatalf("load questionnaire: %v", err)
	}
	if questionnaire.Status != "processed" {
		t.Fatalf("questionnaire status = %s", questionnaire.Status)
	}
}

func TestProcessEmail_QuestionnaireUpdatesExistingClient(t *testing.T) {
	db := newProcessorTestDB(t)
	processor := newTestProcessor(t, db)
	ctx := context.Background()

	existing := models.Client{ID: "c1", Name: "Old Name", Email: "jana@example.com", Status: "active"}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}

	result, err := processor.ProcessEmail(ctx, InboundEmail{
		From:    "jana@example.com",
		Subject: "questionnaire",
		Body:    "Goal: muscle gain",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.ClientID != "c1" {
		t.Fatalf("should reuse existing client, got %s", result.ClientID)
	}

	var client models.Client
	db.First(&client, "id = ?", "c1")
	if client.Goal != "muscle gain" {
		t.Fatalf("goal = %s", client.Goal)
	}
	if client.Status != "active" {
		t.Fatalf("existing status must survive: %s", client.Status)
	}
}

func TestProcessEmail_ProgressCreatesEntry(t *testing.T) {
	db := newProcessorTestDB(t)
	processor := newTestProcessor(t, db)
	ctx := context.Background()

	client := models.Client{ID: "c1", Name: "Jana", Email: "jana@example.com"}
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}

	result, err := processor.ProcessEmail(ctx, InboundEmail{
		From:    "jana@example.com",
		Subject: "weekly check-in",
		Body: `Weight: 67.2 kg
Energy: 6/10
Compliance: 90%`,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.ProgressID == "" {
		t.Fatal("expected a progress entry id")
	}

	var entry models.ProgressEntry
	if err := db.First(&entry, "id = ?", result.ProgressID).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.ClientID != "c1" || entry.Weight == nil || *entry.Weight != 67.2 {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Compliance == nil || *entry.Compliance != 90 {
		t.Fatalf("compliance = %v", entry.Compliance)
	}
}

func TestProcessEmail_ProgressFromUnknownSender(t *testing.T) {
	db := newProcessorTestDB(t)
	processor := newTestProcessor(t, db)

	result, err := processor.ProcessEmail(context.Background(), InboundEmail{
		From:    "stranger@example.com",
		Subject: "check-in",
		Body:    "Weight: 70 kg",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.ProgressID != "" {
		t.Fatal("no progress entry should be created for unknown senders")
	}
	// The failure is recorded, not raised.
	if result.Processed == nil {
		t.Fatal("processing results missing")
	}
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	db := newProcessorTestDB(t)
	processor := newTestProcessor(t, db)

	results := processor.ProcessBatch(context.Background(), []InboundEmail{
		{From: "a@example.com", Subject: "questionnaire", Body: "Name: A\nGoal: run"},
		{From: "", Subject: "question", Body: "hello"},
		{From: "b@example.com", Subject: "questionnaire", Body: "Name: B\nGoal: lift"},
	})
	if len(results) != 3 {
		t.Fatalf("batch results = %d, want 3", len(results))
	}
	if results[0].ClientID == "" || results[2].ClientID == "" {
		t.Fatalf("valid emails should still create clients: %+v", results)
	}
}

func TestTriggerAutomations(t *testing.T) {
	db := newProcessorTestDB(t)
	processor := newTestProcessor(t, db)
	ctx := context.Background()

	rule := models.AutomationRule{
		ID:      "r1",
		Name:    "on questionnaire",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "questionnaire_received"},
		Actions: models.ActionList{{Type: "log"}},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	triggered := processor.TriggerAutomations(ctx, []ProcessResult{
		{EmailID: "e1", ClientID: "c1", Category: CategoryQuestionnaire},
		{EmailID: "e2", Category: CategoryQuestion},
		{Error: "broken"},
	})
	if triggered != 1 {
		t.Fatalf("triggered = %d, want 1", triggered)
	}
}
