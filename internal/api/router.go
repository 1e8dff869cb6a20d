package api

import (
	"github.com/gin-gonic/gin"

	"github.com/final5team-odiga/EssayAgents/internal/queue"
	"github.com/final5team-odiga/EssayAgents/pkg/alerting"
	"github.com/final5team-odiga/EssayAgents/pkg/config"
	"github.com/final5team-odiga/EssayAgents/pkg/health"
	"github.com/final5team-odiga/EssayAgents/pkg/logging"
	"github.com/final5team-odiga/EssayAgents/pkg/metrics"
	"github.com/final5team-odiga/EssayAgents/pkg/resilience"
	"github.com/final5team-odiga/EssayAgents/pkg/session"
	"github.com/final5team-odiga/EssayAgents/pkg/tracing"
)

const serviceVersion = "1.0.0"

// Dependencies holds the components exposed through the introspection API.
// Nil fields disable their routes.
type Dependencies struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Tracing  *tracing.TracingService
	Health   *health.Service
	Queue    *queue.WorkQueue
	Executor *resilience.ResilientExecutor
	Policy   *resilience.PipelinePolicy
	Sessions *session.Registry
	Alerts   *alerting.Service
}

// NewRouter creates the HTTP router for health, metrics, and pipeline
// introspection endpoints
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(RequestIDMiddleware())
	engine.Use(LoggingMiddleware(deps.Logger))
	engine.Use(RecoveryMiddleware(deps.Logger))
	engine.Use(CORSMiddleware())

	if deps.Metrics != nil {
		engine.Use(deps.Metrics.PrometheusMiddleware())
	}
	if deps.Tracing != nil {
		engine.Use(deps.Tracing.TracingMiddleware())
	}

	if deps.Health != nil {
		engine.GET("/health", deps.Health.Handler())
		engine.GET("/health/live", deps.Health.LivenessHandler())
		engine.GET("/health/ready", deps.Health.ReadinessHandler())
	}

	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	handler := NewPipelineHandler(deps)

	v1 := engine.Group("/v1")
	{
		v1.GET("", handler.GetVersion)
		v1.GET("/stats", handler.GetStats)

		if deps.Queue != nil {
			v1.GET("/queue", handler.GetQueue)
			v1.GET("/queue/results/:id", handler.GetQueueResult)
		}

		if deps.Executor != nil {
			v1.GET("/executor", handler.GetExecutor)
			v1.POST("/executor/reset", handler.ResetExecutor)
			v1.GET("/breaker", handler.GetBreaker)
			v1.POST("/breaker/reset", handler.ResetBreaker)
		}

		if deps.Policy != nil {
			v1.GET("/degradation", handler.GetDegradation)
		}

		if deps.Sessions != nil {
			v1.GET("/sessions", handler.GetSessions)
			v1.POST("/sessions", handler.CreateSession)
			v1.GET("/sessions/:id", handler.GetSession)
			v1.POST("/sessions/cleanup", handler.CleanupSessions)
		}

		if deps.Alerts != nil {
			v1.GET("/alerts", handler.GetAlerts)
			v1.GET("/alerts/history", handler.GetAlertHistory)
		}
	}

	engine.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return engine
}
