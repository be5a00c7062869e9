package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/settlement_service/internal/api/routes"
	"github.com/rail-service/settlement_service/internal/infrastructure/config"
	"github.com/rail-service/settlement_service/internal/infrastructure/database"
	"github.com/rail-service/settlement_service/internal/infrastructure/di"
	"github.com/rail-service/settlement_service/pkg/graceful"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/tracing"
)

// @title Settlement Service API
// @version 1.0
// @description Token to fiat settlement pipeline

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize OpenTelemetry tracing
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), time.Minute)
	container, err := di.NewContainer(initCtx, cfg, db, log)
	cancelInit()
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	router := routes.SetupRoutes(container)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	shutdown := graceful.NewShutdownManager(server, cfg.Server.ShutdownTimeout, log)

	if err := container.SettingsRefresher.Start(); err != nil {
		log.Fatal("Failed to start settings refresher", "error", err)
	}
	shutdown.Register(graceful.ShutdownFunc(func(time.Duration) error {
		container.SettingsRefresher.Stop()
		return nil
	}))

	if err := container.ReconciliationScheduler.Start(); err != nil {
		log.Fatal("Failed to start reconciliation scheduler", "error", err)
	}
	shutdown.Register(graceful.ShutdownFunc(func(time.Duration) error {
		container.ReconciliationScheduler.Stop()
		return nil
	}))

	if cfg.Workers.Settlement.Enabled {
		if err := container.SettlementDriver.Start(context.Background()); err != nil {
			log.Fatal("Failed to start settlement driver", "error", err)
		}
		shutdown.Register(container.SettlementDriver)
		log.Info("Settlement driver started", "workers", cfg.Workers.Settlement.WorkerCount)
	} else {
		log.Info("Settlement driver disabled in configuration")
	}

	shutdown.RegisterCloser(graceful.CloserFunc(func() error {
		return container.Events.Shutdown(5 * time.Second)
	}))
	shutdown.RegisterCloser(graceful.CloserFunc(func() error {
		container.Close()
		return nil
	}))
	shutdown.RegisterCloser(db)

	go func() {
		log.Info("Starting server",
			"addr", server.Addr,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown.WaitForShutdown()
	log.Info("Server exited gracefully")
}
