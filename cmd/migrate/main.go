package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"fitcrm/internal/config"
	"fitcrm/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	var flagDSN string
	flag.StringVar(&flagDSN, "dsn", os.Getenv("DB_DSN"), "Postgres DSN, if set overrides config")
	flag.Parse()

	dsn := flagDSN
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password,
			cfg.Database.Name, cfg.Database.Port,
			getenvDefault("DB_SSLMODE", "disable"))
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.Client{},
		&models.Questionnaire{},
		&models.TrainingPlan{},
		&models.NutritionPlan{},
		&models.ProgressEntry{},
		&models.Email{},
		&models.EmailTemplate{},
		&models.ScheduledTask{},
		&models.Settings{},
		&models.AIPlanCache{},
		&models.AutomationRule{},
		&models.AutomationLog{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	log.Println("Creating additional indexes...")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_clients_status ON clients(status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_clients_email ON clients(email)")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_emails_category_created ON emails(category, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_emails_client_created ON emails(client_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(message_id)")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_progress_client_week ON progress_entries(client_id, week_number)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_progress_client_created ON progress_entries(client_id, created_at)")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_training_plans_client ON training_plans(client_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_nutrition_plans_client ON nutrition_plans(client_id, status)")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_rules_trigger ON automation_rules(enabled, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_logs_rule_created ON automation_logs(rule_id, created_at)")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_ai_plan_caches_endpoint ON ai_plan_caches(endpoint, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks(enabled, next_run_at)")

	log.Println("Indexes created successfully!")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
