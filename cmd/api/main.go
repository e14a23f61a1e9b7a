package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aviatorstc/autopilot/internal/api"
	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/internal/cache"
	"github.com/aviatorstc/autopilot/internal/database"
	"github.com/aviatorstc/autopilot/internal/monitor"
	"github.com/aviatorstc/autopilot/internal/notify"
	"github.com/aviatorstc/autopilot/internal/resilience"
	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

func main() {
	// Missing .env is fine in deployed environments
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "autopilot",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(ctx); err != nil {
		cancel()
		logger.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("Database connection established")

	components := map[string]api.ComponentChecker{
		"database": db,
	}

	// Redis backs the read-through cache only, so a missing instance
	// degrades to direct queries instead of failing startup.
	var cacheService *cache.Service
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		cacheService = cache.NewService(redisClient, cache.DefaultConfig())
		components["redis"] = redisClient
		logger.Info("Redis connection established")
	}

	auditLog := audit.NewLogger(audit.NewPostgresRepository(db), logger, m, cfg.Retention)

	var emailSender notify.EmailSender
	smtpSender := notify.NewSMTPSender(cfg.SMTP, logger)
	if smtpSender.Configured() {
		emailSender = smtpSender
	} else {
		logger.Warn("SMTP not configured, email notifications disabled")
	}

	notifyRepo := notify.NewPostgresRepository(db)
	dispatcher := notify.NewDispatcher(notifyRepo, emailSender, auditLog, m, logger, cfg.Retention)

	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfigFrom(cfg.Breaker), logger, m, auditLog, dispatcher)

	mon := monitor.NewMonitor(cfg.Monitor, cfg.Retention, logger, m, auditLog,
		monitor.WithRepository(monitor.NewPostgresRepository(db)),
		monitor.WithBreakerStats(breakers),
		monitor.WithNotifier(dispatcher),
	)
	mon.Start(context.Background())
	defer mon.Stop()

	router := api.NewRouter(api.Deps{
		Config:     cfg,
		Log:        logger,
		Metrics:    m,
		Audit:      auditLog,
		Monitor:    mon,
		Breakers:   breakers,
		Dispatcher: dispatcher,
		NotifyRepo: notifyRepo,
		Cache:      cacheService,
		Components: components,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exited")
}
