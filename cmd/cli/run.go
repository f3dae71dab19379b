package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fitcrm/internal/config"
	"fitcrm/internal/handlers"
	"fitcrm/internal/middleware"
	"fitcrm/internal/models"
	"fitcrm/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fitcrm application",
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	if cfg.Server.Port == 0 {
		cfg = config.GetDefaultConfig()
	}

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	db, err := openDatabase(cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Client{}, &models.Questionnaire{},
		&models.TrainingPlan{}, &models.NutritionPlan{}, &models.ProgressEntry{},
		&models.Email{}, &models.EmailTemplate{},
		&models.ScheduledTask{}, &models.Settings{}, &models.AIPlanCache{},
		&models.AutomationRule{}, &models.AutomationLog{},
	); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	settingsService := services.NewSettingsService(db, appLogger)
	clientService := services.NewClientService(db, appLogger)
	coordinator := services.NewAICoordinator(db, appLogger,
		cfg.AI.CacheDuration, cfg.AI.MinRequestGap, cfg.AI.DefaultCooldown)
	planService := services.NewPlanService(db, appLogger, cfg.AI, coordinator)

	var mailer services.Sender
	if smtpSender, err := services.NewSMTPSender(cfg.Email, appLogger); err != nil {
		appLogger.Warnf("smtp disabled: %v", err)
		mailer = services.DisabledSender{}
	} else {
		mailer = smtpSender
	}

	engine := services.NewAutomationEngine(db, appLogger, planService, clientService, mailer)
	processor := services.NewEmailProcessor(db, appLogger, clientService, engine)
	inboxService := services.NewInboxService(db, appLogger, cfg.Email, settingsService, processor, nil)
	progressService := services.NewProgressService(db, appLogger, clientService, engine, settingsService,
		cfg.Automation.AutoRespondProgress)
	automationService := services.NewAutomationService(db, appLogger)
	setupService := services.NewSetupService(db, appLogger, clientService)

	hub := services.NewEventHub(appLogger)
	go hub.Run()
	engine.SetLogPublisher(hub.PublishLog)

	scheduler := services.NewScheduler(db, appLogger, inboxService, clientService, engine, time.Minute)
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	scheduler.Start(schedCtx)
	defer stopScheduler()

	if cfg.Server.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))

	healthHandler := handlers.NewHealthHandler(db, Version)
	router.GET("/health", healthHandler.Health)
	router.GET("/ws", hub.HandleWebSocket)

	api := router.Group("/api")
	handlers.RegisterClientRoutes(api, handlers.NewClientHandler(clientService, progressService, appLogger))
	handlers.RegisterPlanRoutes(api, handlers.NewPlanHandler(planService, clientService, engine, appLogger))
	handlers.RegisterProgressRoutes(api, handlers.NewProgressHandler(progressService, appLogger))
	handlers.RegisterEmailRoutes(api, handlers.NewEmailHandler(db, inboxService, mailer, appLogger))
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService, engine, appLogger))
	handlers.RegisterSettingsRoutes(api, handlers.NewSettingsHandler(settingsService, appLogger))
	handlers.RegisterSetupRoutes(api, handlers.NewSetupHandler(setupService, appLogger))

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logrus.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}
