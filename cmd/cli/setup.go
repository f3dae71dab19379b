package main

import (
	"context"
	"fmt"

	"fitcrm/internal/config"
	"fitcrm/internal/models"
	"fitcrm/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var setupSample bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initialize default automation rules, email templates and scheduled tasks",
	RunE:  runSetup,
}

func init() {
	setupCmd.Flags().BoolVar(&setupSample, "sample", false, "seed a sample client with one progress entry")
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(
		&models.Client{}, &models.Questionnaire{},
		&models.TrainingPlan{}, &models.NutritionPlan{}, &models.ProgressEntry{},
		&models.Email{}, &models.EmailTemplate{},
		&models.ScheduledTask{}, &models.Settings{}, &models.AIPlanCache{},
		&models.AutomationRule{}, &models.AutomationLog{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	clientService := services.NewClientService(db, appLogger)
	setupService := services.NewSetupService(db, appLogger, clientService)

	result, err := setupService.Run(context.Background(), setupSample)
	if err != nil {
		return err
	}
	fmt.Printf("Setup complete: %d rules, %d templates, %d tasks created\n",
		result.AutomationRules, result.EmailTemplates, result.ScheduledTasks)
	if result.SampleClients > 0 {
		fmt.Println("Sample client seeded")
	}
	return nil
}
