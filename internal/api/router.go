package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/internal/cache"
	"github.com/aviatorstc/autopilot/internal/monitor"
	"github.com/aviatorstc/autopilot/internal/notify"
	"github.com/aviatorstc/autopilot/internal/resilience"
	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

// Deps bundles the services the router exposes.
type Deps struct {
	Config     *config.Config
	Log        *logging.Logger
	Metrics    *metrics.Metrics
	Audit      *audit.Logger
	Monitor    *monitor.Monitor
	Breakers   *resilience.BreakerRegistry
	Dispatcher *notify.Dispatcher
	NotifyRepo notify.Repository
	Cache      *cache.Service
	Components map[string]ComponentChecker
}

// NewRouter builds the HTTP API.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RecoveryMiddleware())
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(deps.Log))
	router.Use(SecurityHeadersMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	healthHandler := NewHealthHandler(deps.Monitor, deps.Components)
	router.GET("/health", healthHandler.Check)

	errorsHandler := NewErrorsHandler(deps.Monitor)
	auditHandler := NewAuditHandler(deps.Audit, deps.Cache)
	breakersHandler := NewBreakersHandler(deps.Breakers)
	notificationsHandler := NewNotificationsHandler(deps.Dispatcher, deps.NotifyRepo)

	v1 := router.Group("/api/v1")
	{
		errs := v1.Group("/errors")
		{
			errs.GET("", errorsHandler.List)
			errs.GET("/stats", errorsHandler.Stats)
			errs.PATCH("/:id/resolution", errorsHandler.UpdateResolution)
			errs.POST("/cleanup", errorsHandler.Cleanup)
		}

		auditGroup := v1.Group("/audit")
		{
			auditGroup.GET("", auditHandler.Query)
			auditGroup.GET("/summary", auditHandler.Summary)
			auditGroup.GET("/performance", auditHandler.Performance)
			auditGroup.GET("/export", auditHandler.Export)
			auditGroup.POST("/cleanup", auditHandler.Cleanup)
		}

		breakers := v1.Group("/breakers")
		{
			breakers.GET("", breakersHandler.List)
			breakers.POST("/:operation/reset", breakersHandler.Reset)
		}

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", notificationsHandler.List)
			notifications.PATCH("/:id/status", notificationsHandler.UpdateStatus)
			notifications.POST("/preferences", notificationsHandler.UpsertPreference)
			notifications.POST("/cleanup", notificationsHandler.Cleanup)
		}
	}

	return router
}
