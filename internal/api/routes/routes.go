package routes

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/rail-service/settlement_service/docs"
	"github.com/rail-service/settlement_service/internal/api/handlers"
	"github.com/rail-service/settlement_service/internal/api/middleware"
	"github.com/rail-service/settlement_service/internal/infrastructure/cache"
	"github.com/rail-service/settlement_service/internal/infrastructure/di"
	"github.com/rail-service/settlement_service/pkg/auth"
	"github.com/rail-service/settlement_service/pkg/idempotency"
	"github.com/rail-service/settlement_service/pkg/tracing"
)

const version = "1.0.0"

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()
	cfg := container.Config

	// Global middleware - order matters
	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	healthHandler := handlers.NewHealthHandler(container.HealthChecks(), container.Logger.Zap(), version)
	settlementHandlers := handlers.NewSettlementHandlers(container.Settlement, container.Logger)
	settingsHandlers := handlers.NewSettingsHandlers(container.Pricing.Rates(), container.Pricing.Fees(), container.Logger)
	webhookHandlers := handlers.NewWebhookHandlers(container.FiatRail, container.Reconciliation, cfg.FiatRail.SkipSignature, container.Logger)

	// Health checks (no auth required)
	router.GET("/health", healthHandler.Health)
	router.GET("/ping", healthHandler.Ping)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger documentation (development only)
	if !cfg.IsProduction() {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Webhooks authenticate by signature
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/fiat-rail", webhookHandlers.FiatRailWebhook)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Authentication(cfg.JWT))
	{
		settlements := v1.Group("/settlements")
		{
			if container.Redis != nil {
				settlements.POST("", idempotency.Middleware(container.Redis, isCacheMiss, container.Logger.Zap()), settlementHandlers.CreateSettlement)
			} else {
				settlements.POST("", settlementHandlers.CreateSettlement)
			}
			settlements.GET("", settlementHandlers.ListSettlements)
			settlements.GET("/:id", settlementHandlers.GetSettlement)
			settlements.POST("/:id/replay", settlementHandlers.ReplaySettlement)
			settlements.POST("/:id/refund", middleware.RequireRole(auth.RoleAdmin), settlementHandlers.RefundSettlement)
		}

		settings := v1.Group("/settings")
		{
			settings.GET("", settingsHandlers.GetSettings)
			settings.PUT("/rate", middleware.RequireRole(auth.RoleAdmin), settingsHandlers.UpdateRate)
			settings.PUT("/fee-tiers", middleware.RequireRole(auth.RoleAdmin), settingsHandlers.UpdateFeeTiers)
		}
	}

	return router
}

func isCacheMiss(err error) bool {
	return errors.Is(err, cache.ErrCacheMiss)
}
