package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fitcrm/internal/config"
	"fitcrm/internal/handlers"
	"fitcrm/internal/metrics"
	"fitcrm/internal/middleware"
	"fitcrm/internal/models"
	"fitcrm/internal/observability"
	"fitcrm/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

var version = "dev"

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if cfg.Server.Port == 0 {
		cfg = config.GetDefaultConfig()
	}

	// Flags and env can override the database connection so the binary
	// works unchanged in docker-compose and bare-metal setups.
	var (
		flagDSN   string
		dbHost    string
		dbPortStr string
		dbUser    string
		dbPass    string
		dbName    string
		dbSSLMode string
		srvHost   string
		srvPort   int
	)
	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)
	flagSet.StringVar(&flagDSN, "dsn", os.Getenv("DB_DSN"), "Postgres DSN, if set overrides other DB flags")
	flagSet.StringVar(&dbHost, "db-host", getenvDefault("DB_HOST", cfg.Database.Host), "database host")
	flagSet.StringVar(&dbPortStr, "db-port", getenvDefault("DB_PORT", fmt.Sprintf("%d", cfg.Database.Port)), "database port")
	flagSet.StringVar(&dbUser, "db-user", getenvDefault("DB_USER", cfg.Database.User), "database user")
	flagSet.StringVar(&dbPass, "db-pass", getenvDefault("DB_PASSWORD", cfg.Database.Password), "database password")
	flagSet.StringVar(&dbName, "db-name", getenvDefault("DB_NAME", cfg.Database.Name), "database name")
	flagSet.StringVar(&dbSSLMode, "db-sslmode", getenvDefault("DB_SSLMODE", "disable"), "sslmode (disable, require, verify-ca, verify-full)")
	flagSet.StringVar(&srvHost, "host", getenvDefault("FITCRM_HOST", cfg.Server.Host), "server host (listen)")
	flagSet.IntVar(&srvPort, "port", func() int {
		if p := os.Getenv("FITCRM_PORT"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				return n
			}
		}
		return cfg.Server.Port
	}(), "server port (listen)")
	_ = flagSet.Parse(os.Args[1:])

	dsn := flagDSN
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			firstNonEmpty(dbHost, cfg.Database.Host),
			firstNonEmpty(dbUser, cfg.Database.User),
			firstNonEmpty(dbPass, cfg.Database.Password),
			firstNonEmpty(dbName, cfg.Database.Name),
			firstNonEmpty(dbPortStr, fmt.Sprintf("%d", cfg.Database.Port)),
			dbSSLMode)
	}

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}
	if sqlDB, err := db.DB(); err == nil {
		if cfg.Database.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		}
	}

	if err := db.AutoMigrate(
		&models.Client{}, &models.Questionnaire{},
		&models.TrainingPlan{}, &models.NutritionPlan{}, &models.ProgressEntry{},
		&models.Email{}, &models.EmailTemplate{},
		&models.ScheduledTask{}, &models.Settings{}, &models.AIPlanCache{},
		&models.AutomationRule{}, &models.AutomationLog{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// Services, in dependency order.
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

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg))
	r.Use(middleware.RateLimit(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	healthHandler := handlers.NewHealthHandler(db, version)
	r.GET("/health", healthHandler.Health)

	if cfg.Monitoring.Enabled {
		metricsPath := cfg.Monitoring.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, func(c *gin.Context) {
			snap := metrics.Snapshot()
			snap["wsSubscribers"] = hub.SubscriberCount()
			c.JSON(http.StatusOK, snap)
		})
	}

	r.GET("/ws", hub.HandleWebSocket)

	api := r.Group("/api")
	handlers.RegisterClientRoutes(api, handlers.NewClientHandler(clientService, progressService, appLogger))
	handlers.RegisterPlanRoutes(api, handlers.NewPlanHandler(planService, clientService, engine, appLogger))
	handlers.RegisterProgressRoutes(api, handlers.NewProgressHandler(progressService, appLogger))
	handlers.RegisterEmailRoutes(api, handlers.NewEmailHandler(db, inboxService, mailer, appLogger))
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService, engine, appLogger))
	handlers.RegisterSettingsRoutes(api, handlers.NewSettingsHandler(settingsService, appLogger))
	handlers.RegisterSetupRoutes(api, handlers.NewSetupHandler(setupService, appLogger))

	listenAddr := fmt.Sprintf("%s:%d", firstNonEmpty(srvHost, cfg.Server.Host), srvPort)
	srv := &http.Server{Addr: listenAddr, Handler: r}
	go func() {
		appLogger.Infof("Starting server on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
