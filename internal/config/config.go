package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	AI         AIConfig         `yaml:"ai"`
	Email      EmailConfig      `yaml:"email"`
	Automation AutomationConfig `yaml:"automation"`
	Business   BusinessConfig   `yaml:"business"`
	Log        LogConfig        `yaml:"log"`
	Security   SecurityConfig   `yaml:"security"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AIConfig drives the plan-generation client. CacheDuration is the
// request-cache TTL; MinRequestGap is the spacing enforced between
// consecutive outbound provider calls.
type AIConfig struct {
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	MaxRetries      int           `yaml:"max_retries"`
	Timeout         time.Duration `yaml:"timeout"`
	CacheDuration   time.Duration `yaml:"cache_duration"`
	MinRequestGap   time.Duration `yaml:"min_request_gap"`
	DefaultCooldown time.Duration `yaml:"default_cooldown"`
}

type EmailConfig struct {
	IMAPEnabled  bool   `yaml:"imap_enabled"`
	IMAPHost     string `yaml:"imap_host"`
	IMAPPort     int    `yaml:"imap_port"`
	IMAPUser     string `yaml:"imap_user"`
	IMAPPassword string `yaml:"imap_password"`
	IMAPMailbox  string `yaml:"imap_mailbox"`
	FetchLimit   int    `yaml:"fetch_limit"`

	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	FromName     string `yaml:"from_name"`
	ReplyTo      string `yaml:"reply_to"`
}

type AutomationConfig struct {
	AutoProcessEmails   bool `yaml:"auto_process_emails"`
	AutoRespondProgress bool `yaml:"auto_respond_progress"`
	AutoGeneratePlans   bool `yaml:"auto_generate_plans"`
	RequirePlanApproval bool `yaml:"require_plan_approval"`
	SendWeeklyReminders bool `yaml:"send_weekly_reminders"`
}

type BusinessConfig struct {
	Name        string `yaml:"name"`
	TrainerName string `yaml:"trainer_name"`
	Timezone    string `yaml:"timezone"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxAge     int    `yaml:"max_age"`  // days
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

type SecurityConfig struct {
	CORS         CORSConfig         `yaml:"cors"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

type RateLimitingConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MetricsPath string        `yaml:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC, e.g. 0.0.0.0:4317
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

func Load() *Config {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	return &config
}

// GetDefaultConfig returns the built-in defaults used when no config
// file is present.
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "fitcrm",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		AI: AIConfig{
			Provider:        "gemini",
			Model:           "gemini-2.0-flash",
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			MaxRetries:      3,
			Timeout:         30 * time.Second,
			CacheDuration:   10 * time.Minute,
			MinRequestGap:   3 * time.Second,
			DefaultCooldown: 10 * time.Minute,
		},
		Email: EmailConfig{
			IMAPEnabled: false,
			IMAPPort:    993,
			IMAPMailbox: "INBOX",
			FetchLimit:  50,
			SMTPPort:    587,
			FromName:    "FitCoach Pro",
		},
		Automation: AutomationConfig{
			AutoProcessEmails:   true,
			AutoRespondProgress: true,
			AutoGeneratePlans:   false,
			RequirePlanApproval: true,
			SendWeeklyReminders: true,
		},
		Business: BusinessConfig{
			Name:     "FitCoach Pro",
			Timezone: "Europe/Bratislava",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			FilePath:   "./logs/fitcrm.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
				AllowedHeaders: []string{"*"},
			},
			RateLimiting: RateLimitingConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "fitcrm",
			},
		},
	}
}
