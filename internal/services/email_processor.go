package services

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/metrics"
	"fitcrm/internal/models"
)

// Email categories.
const (
	CategoryQuestionnaire  = "questionnaire"
	CategoryProgressUpdate = "progress_update"
	CategoryQuestion       = "question"
)

var questionnaireKeywords = []string{
	"questionnaire", "dotazník", "new client", "nový klient",
	"registration", "registrácia", "sign up", "prihlásenie",
	"onboarding", "začíname", "getting started",
}

var progressKeywords = []string{
	"progress", "pokrok", "check-in", "check in", "update", "aktualizácia",
	"weight", "váha", "measurements", "merania", "photos", "fotky",
}

var urgentKeywords = []string{
	"urgent", "urgentné", "important", "dôležité", "help", "pomoc",
	"injury", "zranenie", "pain", "bolesť", "problem", "problém",
}

// Labeled-field patterns for questionnaire intake, covering English,
// Slovak and Czech labels.
var questionnairePatterns = map[string]*regexp.Regexp{
	"name":       regexp.MustCompile(`(?i)(?:name|meno|jméno):\s*(.+)`),
	"age":        regexp.MustCompile(`(?i)(?:age|vek|věk):\s*(\d+)`),
	"weight":     regexp.MustCompile(`(?i)(?:weight|váha|hmotnost):\s*(\d+(?:\.\d+)?)\s*(?:lbs|kg|pounds)?`),
	"height":     regexp.MustCompile(`(?i)(?:height|výška):\s*(\d+(?:\.\d+)?)\s*(?:cm|m|ft|'|")?`),
	"goal":       regexp.MustCompile(`(?i)(?:goal|cieľ|cíl):\s*(.+)`),
	"experience": regexp.MustCompile(`(?i)(?:experience|skúsenosť|zkušenost):\s*(.+)`),
	"injuries":   regexp.MustCompile(`(?i)(?:injuries|zranenia|zranění):\s*(.+)`),
	"equipment":  regexp.MustCompile(`(?i)(?:equipment|vybavenie):\s*(.+)`),
	"days":       regexp.MustCompile(`(?i)(?:days available|dostupné dni|available days):\s*(.+)`),
	"dietary":    regexp.MustCompile(`(?i)(?:dietary restrictions|diétne obmedzenia|stravovací omezení):\s*(.+)`),
}

var (
	progressWeightPattern     = regexp.MustCompile(`(?i)(?:weight|váha):\s*(\d+(?:\.\d+)?)\s*(?:lbs|kg)?`)
	progressBodyFatPattern    = regexp.MustCompile(`(?i)(?:body fat|telesný tuk):\s*(\d+(?:\.\d+)?)\s*%?`)
	progressEnergyPattern     = regexp.MustCompile(`(?i)(?:energy|energia):\s*(\d+)(?:/10)?`)
	progressSleepPattern      = regexp.MustCompile(`(?i)(?:sleep|spánok):\s*(\d+)(?:/10)?`)
	progressCompliancePattern = regexp.MustCompile(`(?i)(?:compliance|dodržiavanie):\s*(\d+)\s*%?`)
	progressNotesPattern      = regexp.MustCompile(`(?is)(?:notes|poznámky|comments|komentáre):\s*(.+)`)

	addressPattern = regexp.MustCompile(`<([^>]+)>`)
)

// ClassifyEmail buckets an email by keyword lists over the lowercased
// subject plus body. Questionnaire wins over progress wins over
// question; urgent keywords only raise the priority of questions.
func ClassifyEmail(subject, text string) (category, priority string) {
	combined := strings.ToLower(subject) + " " + strings.ToLower(text)

	for _, kw := range questionnaireKeywords {
		if strings.Contains(combined, kw) {
			return CategoryQuestionnaire, "high"
		}
	}
	for _, kw := range progressKeywords {
		if strings.Contains(combined, kw) {
			return CategoryProgressUpdate, "normal"
		}
	}
	for _, kw := range urgentKeywords {
		if strings.Contains(combined, kw) {
			return CategoryQuestion, "high"
		}
	}
	return CategoryQuestion, "normal"
}

// ExtractEmailAddress pulls the bare address out of a
// "Name <addr@host>" header value.
func ExtractEmailAddress(s string) string {
	if s == "" {
		return ""
	}
	if match := addressPattern.FindStringSubmatch(s); match != nil {
		return match[1]
	}
	return strings.Fields(s)[0]
}

// ParseQuestionnaire extracts labeled fields from free-form intake
// text. Only fields actually present appear in the result.
func ParseQuestionnaire(text string) models.JSONMap {
	formData := models.JSONMap{}
	for key, pattern := range questionnairePatterns {
		if match := pattern.FindStringSubmatch(text); match != nil {
			formData[key] = strings.TrimSpace(match[1])
		}
	}
	return formData
}

// ExtractClientData converts parsed questionnaire fields into a client
// patch document. List-valued fields split on commas and semicolons.
func ExtractClientData(formData models.JSONMap) models.JSONMap {
	clientData := models.JSONMap{}

	if name := stringParam(formData, "name"); name != "" {
		clientData["name"] = name
	}
	if age := stringParam(formData, "age"); age != "" {
		if n, err := strconv.Atoi(age); err == nil {
			clientData["age"] = n
		}
	}
	if weight := stringParam(formData, "weight"); weight != "" {
		if f, err := strconv.ParseFloat(weight, 64); err == nil {
			clientData["currentWeight"] = f
		}
	}
	if height := stringParam(formData, "height"); height != "" {
		clientData["height"] = height
	}
	if goal := stringParam(formData, "goal"); goal != "" {
		clientData["goal"] = goal
	}
	if experience := stringParam(formData, "experience"); experience != "" {
		clientData["experience"] = experience
	}
	if injuries := splitList(stringParam(formData, "injuries")); injuries != nil {
		clientData["injuries"] = injuries
	}
	if equipment := splitList(stringParam(formData, "equipment")); equipment != nil {
		clientData["equipment"] = equipment
	}
	if days := splitList(strings.ToLower(stringParam(formData, "days"))); days != nil {
		clientData["availableDays"] = days
	}
	if dietary := splitList(stringParam(formData, "dietary")); dietary != nil {
		clientData["dietaryRestrictions"] = dietary
	}

	return clientData
}

func splitList(s string) []interface{} {
	if s == "" {
		return nil
	}
	var items []interface{}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// ParseProgressUpdate extracts check-in measurements from free-form
// text. Absent fields stay nil.
func ParseProgressUpdate(text string) models.JSONMap {
	data := models.JSONMap{}

	if m := progressWeightPattern.FindStringSubmatch(text); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			data["weight"] = f
		}
	}
	if m := progressBodyFatPattern.FindStringSubmatch(text); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			data["bodyFatPct"] = f
		}
	}
	if m := progressEnergyPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			data["energyLevel"] = n
		}
	}
	if m := progressSleepPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			data["sleepQuality"] = n
		}
	}
	if m := progressCompliancePattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			data["compliance"] = n
		}
	}
	if m := progressNotesPattern.FindStringSubmatch(text); m != nil {
		data["notes"] = strings.TrimSpace(m[1])
	}

	return data
}

// ProcessResult summarizes what happened to one inbound email.
type ProcessResult struct {
	EmailID    string         `json:"emailId,omitempty"`
	ClientID   string         `json:"clientId,omitempty"`
	Category   string         `json:"category,omitempty"`
	ProgressID string         `json:"progressId,omitempty"`
	Processed  models.JSONMap `json:"processed,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// EmailProcessor classifies inbound mail, extracts structured data and
// hands the resulting events to the automation engine.
type EmailProcessor struct {
	db      *gorm.DB
	logger  *logrus.Logger
	clients *ClientService
	engine  *AutomationEngine
}

func NewEmailProcessor(db *gorm.DB, logger *logrus.Logger, clients *ClientService, engine *AutomationEngine) *EmailProcessor {
	return &EmailProcessor{db: db, logger: logger, clients: clients, engine: engine}
}

// ProcessBatch runs each email through the pipeline independently; one
// malformed email never aborts the rest of the batch.
func (p *EmailProcessor) ProcessBatch(ctx context.Context, emails []InboundEmail) []ProcessResult {
	results := make([]ProcessResult, 0, len(emails))
	for _, email := range emails {
		result, err := p.ProcessEmail(ctx, email)
		if err != nil {
			p.logger.WithError(err).WithField("from", email.From).Error("Failed to process email")
			results = append(results, ProcessResult{Error: err.Error()})
			continue
		}
		results = append(results, *result)
	}
	return results
}

func (p *EmailProcessor) ProcessEmail(ctx context.Context, email InboundEmail) (*ProcessResult, error) {
	fromEmail := ExtractEmailAddress(email.From)

	var client *models.Client
	if fromEmail != "" {
		existing, err := p.clients.GetByEmail(ctx, fromEmail)
		if err == nil {
			client = existing
		} else if err != ErrNotFound {
			return nil, err
		}
	}

	category, priority := ClassifyEmail(email.Subject, email.Body)

	record := models.Email{
		ID:          uuid.NewString(),
		MessageID:   email.MessageID,
		From:        fromEmail,
		Subject:     email.Subject,
		TextContent: email.Body,
		Category:    category,
		Priority:    priority,
		Status:      "new",
		Folder:      "inbox",
		Source:      "imap",
		ReceivedAt:  email.Date,
	}
	if client != nil {
		record.ClientID = client.ID
	}
	if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}

	result := &ProcessResult{
		EmailID:  record.ID,
		Category: category,
	}
	if client != nil {
		result.ClientID = client.ID
	}

	processing := p.autoProcess(ctx, &record, email, client, result)

	record.AutoProcessed = true
	record.ProcessingResults = processing
	if err := p.db.WithContext(ctx).Model(&record).Updates(map[string]interface{}{
		"auto_processed":     true,
		"processing_results": processing,
	}).Error; err != nil {
		p.logger.WithError(err).Warn("Failed to store email processing results")
	}

	result.Processed = processing
	metrics.IncEmailProcessed()
	return result, nil
}

// autoProcess applies the category-specific pipeline. Failures are
// folded into the processing results instead of propagating, keeping
// batch isolation.
func (p *EmailProcessor) autoProcess(ctx context.Context, record *models.Email, email InboundEmail, client *models.Client, result *ProcessResult) models.JSONMap {
	results := models.JSONMap{"type": record.Category}
	var actions []interface{}

	switch record.Category {
	case CategoryQuestionnaire:
		action, err := p.processQuestionnaire(ctx, email, client, result)
		if err != nil {
			results["error"] = err.Error()
		}
		if action != nil {
			actions = append(actions, map[string]interface{}(action))
		}
	case CategoryProgressUpdate:
		action, err := p.processProgressUpdate(ctx, email, client, result)
		if err != nil {
			results["error"] = err.Error()
		}
		if action != nil {
			actions = append(actions, map[string]interface{}(action))
		}
	default:
		actions = append(actions, map[string]interface{}{
			"action": "manual_review_required",
			"reason": "Question requires trainer response",
		})
	}

	results["actions"] = actions
	return results
}

func (p *EmailProcessor) processQuestionnaire(ctx context.Context, email InboundEmail, existing *models.Client, result *ProcessResult) (models.JSONMap, error) {
	formData := ParseQuestionnaire(email.Body)

	questionnaire := models.Questionnaire{
		ID:             uuid.NewString(),
		Email:          ExtractEmailAddress(email.From),
		EmailMessageID: email.MessageID,
		FormData:       formData,
		Status:         "processing",
	}
	if err := p.db.WithContext(ctx).Create(&questionnaire).Error; err != nil {
		return nil, err
	}

	clientData := ExtractClientData(formData)

	var client *models.Client
	var action string
	var err error
	if existing != nil {
		action = "client_updated"
		client, err = p.clients.Update(ctx, existing.ID, clientData)
	} else {
		action = "client_created"
		fresh := &models.Client{
			Email:  questionnaire.Email,
			Status: "pending",
			Source: "email_questionnaire",
		}
		if raw, mErr := jsonRemarshal(clientData, fresh); mErr == nil {
			client = raw
		} else {
			err = mErr
		}
		if err == nil {
			err = p.clients.Create(ctx, client)
		}
	}
	if err != nil {
		now := time.Now()
		p.db.WithContext(ctx).Model(&questionnaire).Updates(map[string]interface{}{
			"status":       "failed",
			"errors":       models.StringList{err.Error()},
			"processed_at": now,
		})
		return nil, err
	}

	now := time.Now()
	performed := models.JSONMap{
		"action":    action,
		"id":        client.ID,
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if uErr := p.db.WithContext(ctx).Model(&questionnaire).Updates(map[string]interface{}{
		"status":            "processed",
		"client_id":         client.ID,
		"extracted_data":    clientData,
		"actions_performed": performed,
		"processed_at":      now,
	}).Error; uErr != nil {
		p.logger.WithError(uErr).Warn("Failed to finalize questionnaire record")
	}

	result.ClientID = client.ID
	return models.JSONMap{
		"action":          action,
		"clientId":        client.ID,
		"questionnaireId": questionnaire.ID,
		"success":         true,
	}, nil
}

func (p *EmailProcessor) processProgressUpdate(ctx context.Context, email InboundEmail, client *models.Client, result *ProcessResult) (models.JSONMap, error) {
	if client == nil {
		return models.JSONMap{
			"action":  "progress_update_failed",
			"reason":  "Client not found",
			"success": false,
		}, nil
	}

	progressData := ParseProgressUpdate(email.Body)

	entry := models.ProgressEntry{
		ID:             uuid.NewString(),
		ClientID:       client.ID,
		EmailMessageID: email.MessageID,
		Type:           "weekly",
		RawText:        email.Body,
		Status:         "pending",
	}
	if w, ok := toFloat(progressData["weight"]); ok {
		entry.Weight = &w
	}
	if bf, ok := toFloat(progressData["bodyFatPct"]); ok {
		entry.BodyFatPct = &bf
	}
	if e, ok := toFloat(progressData["energyLevel"]); ok {
		n := int(e)
		entry.EnergyLevel = &n
	}
	if s, ok := toFloat(progressData["sleepQuality"]); ok {
		n := int(s)
		entry.SleepQuality = &n
	}
	if c, ok := toFloat(progressData["compliance"]); ok {
		n := int(c)
		entry.Compliance = &n
	}
	if notes := stringParam(progressData, "notes"); notes != "" {
		entry.Notes = notes
	}

	if err := p.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}

	result.ProgressID = entry.ID
	return models.JSONMap{
		"action":     "progress_entry_created",
		"progressId": entry.ID,
		"clientId":   client.ID,
		"success":    true,
	}, nil
}

// TriggerAutomations fires the automation events that follow a
// processed batch.
func (p *EmailProcessor) TriggerAutomations(ctx context.Context, results []ProcessResult) int {
	triggered := 0
	for _, result := range results {
		if result.Error != "" {
			continue
		}
		var event *Event
		switch result.Category {
		case CategoryQuestionnaire:
			event = &Event{Type: "questionnaire_received", Data: models.JSONMap{
				"emailId":  result.EmailID,
				"clientId": result.ClientID,
				"category": result.Category,
			}}
		case CategoryProgressUpdate:
			event = &Event{Type: "progress_submitted", Data: models.JSONMap{
				"emailId":    result.EmailID,
				"clientId":   result.ClientID,
				"progressId": result.ProgressID,
			}}
		}
		if event == nil {
			continue
		}
		logs, err := p.engine.TriggerEvent(ctx, *event)
		if err != nil {
			p.logger.WithError(err).Warn("Automation trigger failed")
			continue
		}
		triggered += len(logs)
	}
	return triggered
}

func jsonRemarshal(data models.JSONMap, into *models.Client) (*models.Client, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, into); err != nil {
		return nil, err
	}
	return into, nil
}
