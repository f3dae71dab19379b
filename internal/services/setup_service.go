package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/models"
)

// SetupResult counts what a setup run created.
type SetupResult struct {
	AutomationRules int `json:"automationRules"`
	EmailTemplates  int `json:"emailTemplates"`
	ScheduledTasks  int `json:"scheduledTasks"`
	SampleClients   int `json:"sampleClients"`
}

// SetupService seeds the default automation rules, email templates and
// scheduled tasks. Re-running it is safe: records that already exist
// are left alone.
type SetupService struct {
	db      *gorm.DB
	logger  *logrus.Logger
	clients *ClientService
}

func NewSetupService(db *gorm.DB, logger *logrus.Logger, clients *ClientService) *SetupService {
	return &SetupService{db: db, logger: logger, clients: clients}
}

func (s *SetupService) Run(ctx context.Context, includeSample bool) (*SetupResult, error) {
	result := &SetupResult{}

	for _, rule := range defaultAutomationRules() {
		created, err := s.ensureRule(ctx, rule)
		if err != nil {
			return nil, err
		}
		if created {
			result.AutomationRules++
		}
	}

	for _, tpl := range defaultEmailTemplates() {
		created, err := s.ensureTemplate(ctx, tpl)
		if err != nil {
			return nil, err
		}
		if created {
			result.EmailTemplates++
		}
	}

	for _, task := range defaultScheduledTasks() {
		created, err := s.ensureTask(ctx, task)
		if err != nil {
			return nil, err
		}
		if created {
			result.ScheduledTasks++
		}
	}

	if includeSample {
		created, err := s.seedSampleData(ctx)
		if err != nil {
			return nil, err
		}
		if created {
			result.SampleClients++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"rules":     result.AutomationRules,
		"templates": result.EmailTemplates,
		"tasks":     result.ScheduledTasks,
	}).Info("Setup completed")
	return result, nil
}

func (s *SetupService) ensureRule(ctx context.Context, rule models.AutomationRule) (bool, error) {
	var existing models.AutomationRule
	err := s.db.WithContext(ctx).First(&existing, "name = ?", rule.Name).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	rule.ID = uuid.NewString()
	return true, s.db.WithContext(ctx).Create(&rule).Error
}

func (s *SetupService) ensureTemplate(ctx context.Context, tpl models.EmailTemplate) (bool, error) {
	var existing models.EmailTemplate
	err := s.db.WithContext(ctx).First(&existing, "id = ?", tpl.ID).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	return true, s.db.WithContext(ctx).Create(&tpl).Error
}

func (s *SetupService) ensureTask(ctx context.Context, task models.ScheduledTask) (bool, error) {
	var existing models.ScheduledTask
	err := s.db.WithContext(ctx).First(&existing, "type = ?", task.Type).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	task.ID = uuid.NewString()
	next := time.Now().Add(time.Duration(task.IntervalMinutes) * time.Minute)
	task.NextRunAt = &next
	return true, s.db.WithContext(ctx).Create(&task).Error
}

func (s *SetupService) seedSampleData(ctx context.Context) (bool, error) {
	if _, err := s.clients.GetByEmail(ctx, "john.doe@example.com"); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	bodyFat := 22.0
	client := models.Client{
		Name:          "John Doe",
		Email:         "john.doe@example.com",
		Phone:         "+421 900 123 456",
		Age:           32,
		City:          "Bratislava",
		Height:        "180cm",
		CurrentWeight: 185,
		BodyFatPct:    &bodyFat,
		Goal:          "Weight Loss",
		Experience:    "intermediate",
		Status:        "active",
		AvailableDays: models.StringList{"mon", "wed", "fri"},
		Equipment:     models.StringList{"dumbbells", "barbell", "bench"},
		Source:        "manual",
	}
	if err := s.clients.Create(ctx, &client); err != nil {
		return false, err
	}

	weight := 183.0
	energy, sleep, compliance := 8, 7, 85
	entry := models.ProgressEntry{
		ID:           uuid.NewString(),
		ClientID:     client.ID,
		Type:         "weekly",
		WeekNumber:   1,
		Weight:       &weight,
		EnergyLevel:  &energy,
		SleepQuality: &sleep,
		Compliance:   &compliance,
		Notes:        "Feeling great! A bit sore from workouts.",
		Status:       "pending",
	}
	return true, s.db.WithContext(ctx).Create(&entry).Error
}

func defaultAutomationRules() []models.AutomationRule {
	return []models.AutomationRule{
		{
			Name:        "New Client Onboarding",
			Description: "Automatically onboard new clients from questionnaire emails",
			Enabled:     true,
			Trigger:     models.RuleTrigger{Type: "questionnaire_received", Conditions: models.JSONMap{}},
			Actions: models.ActionList{
				{Type: "activate_client", Params: models.JSONMap{}},
				{Type: "generate_training_plan", Params: models.JSONMap{"activate": false}},
				{Type: "generate_nutrition_plan", Params: models.JSONMap{"activate": false}},
				{Type: "send_template_email", Params: models.JSONMap{
					"templateId": "welcome",
					"to":         "{{client.email}}",
					"data":       models.JSONMap{},
				}},
			},
		},
		{
			Name:        "Progress Update Auto-Response",
			Description: "Analyze progress and send personalized feedback",
			Enabled:     true,
			Trigger:     models.RuleTrigger{Type: "progress_submitted", Conditions: models.JSONMap{}},
			Actions: models.ActionList{
				{Type: "analyze_progress", Params: models.JSONMap{}},
				{Type: "generate_progress_response", Params: models.JSONMap{}},
				{Type: "send_email", Params: models.JSONMap{
					"to":      "{{client.email}}",
					"subject": "Your Progress Update - Feedback from Coach",
					"text":    "{{progressResponse}}",
				}},
			},
		},
		{
			Name:        "Auto-Activate Plans After Review",
			Description: "Automatically activate and send plans to clients",
			Enabled:     false,
			Trigger:     models.RuleTrigger{Type: "plan_approved", Conditions: models.JSONMap{}},
			Actions: models.ActionList{
				{Type: "activate_plan", Params: models.JSONMap{
					"planId":   "{{planId}}",
					"planType": "{{planType}}",
				}},
				{Type: "send_template_email", Params: models.JSONMap{
					"templateId": "plan_ready",
					"to":         "{{client.email}}",
					"data":       models.JSONMap{},
				}},
			},
		},
	}
}

func defaultEmailTemplates() []models.EmailTemplate {
	return []models.EmailTemplate{
		{
			ID:          "welcome",
			Name:        "Welcome New Client",
			Description: "Sent to new clients after questionnaire is processed",
			Category:    "welcome",
			Subject:     "Welcome to FitCoach Pro! 🎯",
			TextContent: `Hi {{client.name}},

Welcome to FitCoach Pro! I'm excited to work with you on your fitness journey.

I've received your questionnaire and I'm currently preparing your personalized training and nutrition plans based on your goals: {{client.goal}}.

Here's what happens next:
1. I'll review and customize your plans (usually within 24 hours)
2. You'll receive your complete training and nutrition program
3. We'll schedule a quick call to go over everything
4. You'll start your transformation!

In the meantime, if you have any questions, just reply to this email.

Let's do this! 💪

Your Coach
FitCoach Pro`,
			Variables: models.StringList{"client.name", "client.goal"},
		},
		{
			ID:          "plan_ready",
			Name:        "Your Plan is Ready",
			Description: "Sent when training/nutrition plan is activated",
			Category:    "plan_ready",
			Subject:     "Your Personalized {{planType}} Plan is Ready! 🎉",
			TextContent: `Hi {{client.name}},

Great news! Your personalized {{planType}} plan is ready and waiting for you.

I've carefully designed this program based on:
- Your goal: {{client.goal}}
- Your experience level
- Your available equipment and schedule
- Your specific needs and preferences

You can view your plan in the client portal or I can send you a PDF version - just let me know.

Remember:
- Consistency is key
- Don't hesitate to ask questions
- Check in weekly so I can track your progress
- We can adjust the plan anytime based on your feedback

Ready to crush your goals? Let's get started!

Your Coach
FitCoach Pro`,
			Variables: models.StringList{"client.name", "client.goal", "planType"},
		},
		{
			ID:          "checkin_reminder",
			Name:        "Weekly Check-in Reminder",
			Description: "Reminder to submit weekly progress",
			Category:    "reminder",
			Subject:     "Time for Your Weekly Check-in! 📊",
			TextContent: `Hi {{client.name}},

Hope you're having a great week! It's time for your weekly check-in.

Please send me an update with:
- Current weight
- Energy levels (1-10)
- Sleep quality (1-10)
- Compliance with your plan (%)
- Any challenges or wins this week

This helps me track your progress and make adjustments to keep you moving toward your goal.

Reply to this email or use the check-in form in the client portal.

Keep crushing it! 💪

Your Coach
FitCoach Pro`,
			Variables: models.StringList{"client.name"},
		},
	}
}

func defaultScheduledTasks() []models.ScheduledTask {
	return []models.ScheduledTask{
		{
			Name:            "Check Emails",
			Type:            "check_emails",
			IntervalMinutes: 30,
			Enabled:         false,
			Config:          models.JSONMap{"mailbox": "INBOX", "limit": float64(50)},
		},
		{
			Name:            "Weekly Check-in Reminders",
			Type:            "send_checkin_reminders",
			IntervalMinutes: 7 * 24 * 60,
			Enabled:         true,
			Config:          models.JSONMap{"templateId": "checkin_reminder"},
		},
	}
}
