package models

import (
	"time"
)

// Client is the central CRM record for one coached person.
type Client struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Personal info
	Name   string `json:"name"`
	Email  string `gorm:"uniqueIndex" json:"email"`
	Phone  string `json:"phone,omitempty"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"` // male, female
	City   string `json:"city,omitempty"`

	// Physical stats
	Height        string   `json:"height,omitempty"` // e.g. "180cm"
	CurrentWeight float64  `json:"currentWeight,omitempty"`
	BodyFatPct    *float64 `json:"bodyFatPct,omitempty"`

	// Goals
	Goal       string `json:"goal,omitempty"` // "Weight Loss", "Hypertrophy", ...
	Experience string `json:"experience,omitempty"`

	// Status: pending, active, paused, inactive
	Status         string     `gorm:"index;default:'pending'" json:"status"`
	OnboardedAt    *time.Time `json:"onboardedAt,omitempty"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`

	// Pointers to the most recently activated plan versions, never drafts.
	CurrentTrainingPlanID  string `json:"currentTrainingPlanId,omitempty"`
	CurrentNutritionPlanID string `json:"currentNutritionPlanId,omitempty"`

	// Preferences & constraints
	DietaryRestrictions StringList `gorm:"type:text" json:"dietaryRestrictions,omitempty"`
	Injuries            StringList `gorm:"type:text" json:"injuries,omitempty"`
	AvailableDays       StringList `gorm:"type:text" json:"availableDays,omitempty"`
	Equipment           StringList `gorm:"type:text" json:"equipment,omitempty"`

	PreferredLanguage  string `json:"preferredLanguage,omitempty"`
	EmailNotifications bool   `gorm:"default:true" json:"emailNotifications"`

	Source string `json:"source,omitempty"` // email_questionnaire, manual, web_form
	Notes  string `gorm:"type:text" json:"notes,omitempty"`
}

// Questionnaire is the audit record of one raw intake submission.
type Questionnaire struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`

	ClientID       string `gorm:"index" json:"clientId,omitempty"`
	Email          string `gorm:"index" json:"email"`
	EmailMessageID string `json:"emailMessageId,omitempty"`

	// pending, processing, processed, failed
	Status string `gorm:"index" json:"status"`

	FormData         JSONMap    `gorm:"type:text" json:"formData,omitempty"`
	ExtractedData    JSONMap    `gorm:"type:text" json:"extractedData,omitempty"`
	Errors           StringList `gorm:"type:text" json:"errors,omitempty"`
	ActionsPerformed JSONMap    `gorm:"type:text" json:"actionsPerformed,omitempty"`
}

// TrainingPlan versions are immutable once activated; edits create new
// versions pointing back via PreviousVersionID.
type TrainingPlan struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ClientID string `gorm:"index" json:"clientId"`
	Name     string `json:"name"`

	StartDate     string `json:"startDate,omitempty"` // ISO date
	EndDate       string `json:"endDate,omitempty"`
	DurationWeeks int    `json:"durationWeeks,omitempty"`
	Focus         string `json:"focus,omitempty"` // Strength, Hypertrophy, ...

	// draft, active, completed, archived
	Status string `gorm:"index" json:"status"`

	// { mon: {title, isRest, items: [{name, sets, reps, rpe, notes}]}, ... }
	Days JSONMap `gorm:"type:text" json:"days,omitempty"`

	GeneratedBy string `json:"generatedBy,omitempty"` // ai, manual, template
	AIModel     string `json:"aiModel,omitempty"`

	Version           int    `gorm:"default:1" json:"version"`
	PreviousVersionID string `json:"previousVersionId,omitempty"`
}

type NutritionPlan struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ClientID string `gorm:"index" json:"clientId"`
	Name     string `json:"name"`

	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	WeekLabel string `json:"weekLabel,omitempty"`

	Status string `gorm:"index" json:"status"`

	// { kcal, protein, carbs, fats, waterLiters }
	Targets JSONMap `gorm:"type:text" json:"targets,omitempty"`
	// { mon: {meals: {breakfast: [...], lunch: [...], dinner: [...]}, notes}, ... }
	Days JSONMap `gorm:"type:text" json:"days,omitempty"`

	GeneratedBy string `json:"generatedBy,omitempty"`
	AIModel     string `json:"aiModel,omitempty"`

	Version           int    `gorm:"default:1" json:"version"`
	PreviousVersionID string `json:"previousVersionId,omitempty"`
}

// ProgressEntry is one client check-in, whether submitted via the web
// form or parsed out of an inbound email.
type ProgressEntry struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	ClientID       string `gorm:"index" json:"clientId"`
	EmailMessageID string `json:"emailMessageId,omitempty"`

	Type       string `json:"type,omitempty"` // weekly, biweekly, ad_hoc
	WeekNumber int    `json:"weekNumber,omitempty"`

	Weight       *float64 `json:"weight,omitempty"`
	BodyFatPct   *float64 `json:"bodyFatPct,omitempty"`
	Measurements JSONMap  `gorm:"type:text" json:"measurements,omitempty"`

	PhotoURLs StringList `gorm:"type:text" json:"photoUrls,omitempty"`

	EnergyLevel  *int   `json:"energyLevel,omitempty"`  // 1-10
	SleepQuality *int   `json:"sleepQuality,omitempty"` // 1-10
	StressLevel  *int   `json:"stressLevel,omitempty"`  // 1-10
	Hunger       string `json:"hunger,omitempty"`       // low, normal, high
	Compliance   *int   `json:"compliance,omitempty"`   // 0-100 %

	Notes      string `gorm:"type:text" json:"notes,omitempty"`
	Challenges string `gorm:"type:text" json:"challenges,omitempty"`
	Wins       string `gorm:"type:text" json:"wins,omitempty"`

	RawText string `gorm:"type:text" json:"rawText,omitempty"`

	Responded  bool       `json:"responded"`
	ResponseID string     `json:"responseId,omitempty"`
	ResponseAt *time.Time `json:"responseAt,omitempty"`

	// pending, processed, responded
	Status string `gorm:"index" json:"status"`
}

// Email is one inbound (or recorded outbound) message in the inbox.
type Email struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	MessageID string `gorm:"index" json:"messageId,omitempty"`
	InReplyTo string `json:"inReplyTo,omitempty"`

	From string `json:"from"`
	To   string `json:"to"`

	ClientID string `gorm:"index" json:"clientId,omitempty"`

	Subject     string `json:"subject"`
	TextContent string `gorm:"type:text" json:"textContent"`
	HTMLContent string `gorm:"type:text" json:"htmlContent,omitempty"`

	Attachments JSONMap `gorm:"type:text" json:"attachments,omitempty"`

	// questionnaire, progress_update, question
	Category string `gorm:"index" json:"category,omitempty"`
	// high, normal, low
	Priority string `json:"priority"`

	// new, assigned, in_progress, done
	Status string `gorm:"index;default:'new'" json:"status"`
	Read   bool   `json:"read"`

	AutoProcessed     bool    `json:"autoProcessed"`
	ProcessingResults JSONMap `gorm:"type:text" json:"processingResults,omitempty"`

	Source string `json:"source,omitempty"` // imap, manual
	Folder string `gorm:"index;default:'inbox'" json:"folder"`

	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}

// EmailTemplate supports {{dotted.path}} variables in subject and body.
type EmailTemplate struct {
	ID          string `gorm:"primaryKey" json:"id"` // e.g. "welcome"
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Subject     string `json:"subject"`
	TextContent string `gorm:"type:text" json:"textContent"`
	HTMLContent string `gorm:"type:text" json:"htmlContent,omitempty"`

	Variables StringList `gorm:"type:text" json:"variables,omitempty"`
	Category  string     `json:"category,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScheduledTask is a recurring background job definition.
type ScheduledTask struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	Name string `json:"name"`
	Type string `gorm:"index" json:"type"` // check_emails, send_checkin_reminders

	// Interval in minutes between runs.
	IntervalMinutes int `json:"intervalMinutes"`

	Enabled bool `gorm:"index" json:"enabled"`

	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time `gorm:"index" json:"nextRunAt,omitempty"`
	RunCount  int        `json:"runCount"`

	Config JSONMap `gorm:"type:text" json:"config,omitempty"`

	LastError  string `json:"lastError,omitempty"`
	ErrorCount int    `json:"errorCount"`
}

// Settings is the single trainer-editable configuration document
// (id "global"). Sections override file config where present.
type Settings struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`

	Email      JSONMap `gorm:"type:text" json:"email,omitempty"`
	AI         JSONMap `gorm:"type:text" json:"ai,omitempty"`
	Automation JSONMap `gorm:"type:text" json:"automation,omitempty"`
	Business   JSONMap `gorm:"type:text" json:"business,omitempty"`
}

// AIPlanCache is the durable side of the plan-request cache, keyed by
// endpoint plus sanitized request fingerprint.
type AIPlanCache struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Endpoint  string    `gorm:"index" json:"endpoint"`
	CreatedAt time.Time `json:"createdAt"`
	Response  string    `gorm:"type:text" json:"response"`
}
