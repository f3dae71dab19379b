package main

import (
	"context"
	"errors"
	"fmt"

	"fitcrm/internal/config"
	"fitcrm/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var checkmailLimit int

var checkmailCmd = &cobra.Command{
	Use:   "checkmail",
	Short: "Poll the inbox once, classify new messages and run automations",
	RunE:  runCheckmail,
}

func init() {
	checkmailCmd.Flags().IntVar(&checkmailLimit, "limit", 50, "maximum number of messages to fetch")
	rootCmd.AddCommand(checkmailCmd)
}

func runCheckmail(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	settingsService := services.NewSettingsService(db, appLogger)
	clientService := services.NewClientService(db, appLogger)
	coordinator := services.NewAICoordinator(db, appLogger,
		cfg.AI.CacheDuration, cfg.AI.MinRequestGap, cfg.AI.DefaultCooldown)
	planService := services.NewPlanService(db, appLogger, cfg.AI, coordinator)

	var mailer services.Sender
	if smtpSender, err := services.NewSMTPSender(cfg.Email, appLogger); err != nil {
		mailer = services.DisabledSender{}
	} else {
		mailer = smtpSender
	}

	engine := services.NewAutomationEngine(db, appLogger, planService, clientService, mailer)
	processor := services.NewEmailProcessor(db, appLogger, clientService, engine)
	inboxService := services.NewInboxService(db, appLogger, cfg.Email, settingsService, processor, nil)

	result, err := inboxService.CheckEmails(context.Background(), checkmailLimit)
	if err != nil {
		if errors.Is(err, services.ErrFetchingDisabled) {
			return errors.New("IMAP is not enabled; configure email settings first")
		}
		return err
	}

	fmt.Printf("Checked %d emails, processed %d, triggered %d automation runs\n",
		result.EmailsChecked, result.Processed, result.AutomationRulesTriggered)
	return nil
}
