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

	"github.com/final5team-odiga/EssayAgents/internal/api"
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

const (
	serviceName    = "essayagents-pipeline"
	serviceVersion = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: serviceName,
		Version:     serviceVersion,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
	})

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.ServiceName = serviceName
	tracingCfg.ServiceVersion = serviceVersion
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerEndpoint = cfg.Tracing.JaegerEndpoint
	tracingCfg.SamplingRate = cfg.Tracing.SamplingRate

	tracer, err := tracing.NewTracingService(tracingCfg)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Degradation monitoring and policy
	monitor := resilience.NewDegradationMonitor()
	monitor.Register("model", resilience.LevelCritical)
	monitor.Register("work_queue", resilience.LevelSevere)
	policy := resilience.NewPipelinePolicy(monitor)

	// Alerting
	alerts := alerting.NewService(logger, alerting.DefaultConfig())
	alerts.AddChannel(alerting.NewLogChannel(logger))
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		alerts.AddChannel(alerting.NewSlackChannel(url, os.Getenv("SLACK_CHANNEL"), serviceName, ":rotating_light:"))
	}
	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		alerts.AddChannel(alerting.NewWebhookChannel(url, nil))
	}
	for _, rule := range alerting.PredefinedAlerts {
		alerts.AddRule(rule)
	}

	// Failure breaker guarding the model backend. State changes feed the
	// degradation monitor, the metrics gauges, and alerting.
	monitorCallback := monitor.BreakerCallback()
	breaker := resilience.NewFailureBreaker(resilience.FailureBreakerConfig{
		Name:             "model",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		HalfOpenAttempts: cfg.Breaker.HalfOpenAttempts,
		OnStateChange: func(name string, from, to resilience.BreakerState) {
			monitorCallback(name, from, to)
			m.UpdateBreakerState(name, int(to))
			m.RecordBreakerTransition(name, to.String())

			alertID := "breaker-" + name
			switch to {
			case resilience.StateOpen:
				_ = alerts.TriggerAlert(ctx, &alerting.Alert{
					ID:          alertID,
					Title:       fmt.Sprintf("Failure breaker %s opened", name),
					Description: fmt.Sprintf("Breaker %s transitioned from %s to %s", name, from, to),
					Severity:    alerting.SeverityCritical,
					Component:   name,
					Labels:      map[string]string{"category": "resilience"},
				})
			case resilience.StateClosed:
				_ = alerts.ResolveAlert(ctx, alertID)
			}
		},
	})

	executor := resilience.NewResilientExecutor(resilience.ExecutorConfig{
		MaxRetries:     cfg.Executor.MaxRetries,
		InitialTimeout: cfg.Executor.InitialTimeout,
		BackoffFactor:  cfg.Executor.BackoffFactor,
		Breaker:        breaker,
		Depth:          resilience.NewDepthBudget(cfg.Executor.DepthLimit, cfg.Executor.DepthBuffer),
	})

	// The Redis-backed result archive is optional. The pipeline serves results
	// from memory either way, so a missing Redis only costs archival.
	var redisClient *queue.RedisClient
	var archive *queue.ResultArchive
	if cfg.Archive.Enabled {
		redisClient, err = queue.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Warn("Result archive disabled, Redis connection failed", "error", err)
			redisClient = nil
		} else {
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			if err := redisClient.Health(pingCtx); err != nil {
				logger.Warn("Result archive disabled, Redis health check failed", "error", err)
				redisClient.Close()
				redisClient = nil
			} else {
				archive = queue.NewResultArchive(redisClient, cfg.Archive.TTL, m)
				monitor.Register("archive", resilience.LevelPartial)
				logger.Info("Result archive enabled", "ttl", cfg.Archive.TTL)
			}
			pingCancel()
		}
	}

	// Work queue
	workQueue := queue.NewWorkQueue(queue.Config{
		Name:            "pipeline_queue",
		MaxWorkers:      cfg.Queue.MaxWorkers,
		MaxQueueSize:    cfg.Queue.MaxQueueSize,
		BatchSize:       cfg.Queue.BatchSize,
		PollInterval:    cfg.Queue.PollInterval,
		ShutdownTimeout: cfg.Queue.ShutdownTimeout,
		Archive:         archive,
		Metrics:         m,
	})
	workQueue.Start()

	sessions := session.NewRegistry(logger)

	// Health checks
	healthSvc := health.NewService(logger, health.DefaultConfig())
	healthSvc.RegisterChecker("work_queue", health.NewQueueChecker(workQueue, "work_queue"))
	healthSvc.RegisterChecker("breaker", health.NewBreakerChecker(breaker, "breaker"))
	healthSvc.RegisterChecker("degradation", health.NewMonitorChecker(monitor, "degradation"))
	if redisClient != nil {
		healthSvc.RegisterChecker("redis", health.NewRedisChecker(redisClient, "redis"))
	}

	// Periodic gauge sampling
	collector := metrics.NewMetricsCollector(m, 15*time.Second, func(mm *metrics.Metrics) {
		mm.UpdateQueueDepth(workQueue.Name(), workQueue.Depth())
		mm.UpdateActiveWorkers(workQueue.Name(), workQueue.WorkerCount())
		mm.UpdateBreakerState(breaker.Name(), int(breaker.State()))
		if byIsolation, ok := sessions.Stats()["by_isolation"].(map[string]int); ok {
			for level, count := range byIsolation {
				mm.UpdateSessions(level, count)
			}
		}
	})
	go collector.Start(ctx)

	go watchPipeline(ctx, logger, healthSvc, monitor, policy, executor, alerts)
	go cleanupSessions(ctx, logger, sessions)

	var tracerDep *tracing.TracingService
	if cfg.Tracing.Enabled {
		tracerDep = tracer
	}

	router := api.NewRouter(api.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Tracing:  tracerDep,
		Health:   healthSvc,
		Queue:    workQueue,
		Executor: executor,
		Policy:   policy,
		Sessions: sessions,
		Alerts:   alerts,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting pipeline server",
			"addr", server.Addr,
			"workers", cfg.Queue.MaxWorkers,
			"archive_enabled", archive != nil,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut everything down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down pipeline")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := workQueue.Stop(shutdownCtx, true); err != nil {
		logger.Error("Work queue drain failed", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Tracer shutdown failed", "error", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Pipeline exited")
}

// watchPipeline folds periodic health check results into the degradation
// monitor and applies the resulting policy. Sync mode is only ever escalated
// here; clearing it is an operator action through the API.
func watchPipeline(
	ctx context.Context,
	logger *logging.Logger,
	healthSvc *health.Service,
	monitor *resilience.DegradationMonitor,
	policy *resilience.PipelinePolicy,
	executor *resilience.ResilientExecutor,
	alerts *alerting.Service,
) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	lastLevel := resilience.LevelNormal
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		resp := healthSvc.CheckHealth(ctx)
		for name, check := range resp.Checks {
			healthy := check.Status == health.StatusHealthy
			switch name {
			case "work_queue":
				monitor.Observe("work_queue", healthy, check.Duration, check.Message)
			case "redis":
				monitor.Observe("archive", healthy, check.Duration, check.Message)
			}
		}

		level := monitor.Level()
		if level != lastLevel {
			logger.Warn("Pipeline degradation level changed",
				"from", lastLevel.String(),
				"to", level.String(),
				"unhealthy", monitor.UnhealthyDependencies(),
			)
		}
		if level >= resilience.LevelSevere && lastLevel < resilience.LevelSevere {
			_ = alerts.TriggerAlert(ctx, &alerting.Alert{
				ID:          "pipeline-degradation",
				Title:       "Pipeline severely degraded",
				Description: fmt.Sprintf("Degradation level reached %s", level),
				Severity:    alerting.SeverityCritical,
				Component:   "pipeline",
				Labels:      map[string]string{"category": "resilience"},
			})
		} else if level == resilience.LevelNormal && lastLevel != resilience.LevelNormal {
			_ = alerts.ResolveAlert(ctx, "pipeline-degradation")
		}
		lastLevel = level

		if allowed, reason := policy.AllowAsync(); !allowed && !executor.ShouldUseSync() {
			logger.Warn("Switching executor to sync mode", "reason", reason)
			executor.SetSyncMode(true)
		}
	}
}

// cleanupSessions drops expired sessions on a fixed interval.
func cleanupSessions(ctx context.Context, logger *logging.Logger, registry *session.Registry) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := registry.CleanupExpired(); removed > 0 {
				logger.Info("Expired sessions removed", "count", removed)
			}
		}
	}
}
