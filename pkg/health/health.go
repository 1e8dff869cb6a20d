package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/final5team-odiga/EssayAgents/internal/queue"
	"github.com/final5team-odiga/EssayAgents/pkg/logging"
	"github.com/final5team-odiga/EssayAgents/pkg/resilience"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// Check represents a health check
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) *Check
}

// Service provides health checking functionality
type Service struct {
	checkers map[string]Checker
	logger   *logging.Logger
	metadata map[string]string
	timeout  time.Duration
	mutex    sync.RWMutex
}

// Config holds health check configuration
type Config struct {
	Timeout  time.Duration     `json:"timeout"`
	Metadata map[string]string `json:"metadata"`
}

// DefaultConfig returns default health check configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:  5 * time.Second,
		Metadata: make(map[string]string),
	}
}

// NewService creates a new health check service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Service{
		checkers: make(map[string]Checker),
		logger:   logger.WithComponent("health"),
		metadata: config.Metadata,
		timeout:  config.Timeout,
	}
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers[name] = checker
}

// UnregisterChecker unregisters a health checker
func (s *Service) UnregisterChecker(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.checkers, name)
}

// CheckHealth performs all health checks
func (s *Service) CheckHealth(ctx context.Context) *HealthResponse {
	start := time.Now()

	s.mutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mutex.RUnlock()

	checks := make(map[string]*Check, len(checkers))
	overallStatus := StatusHealthy

	// Run all checks concurrently
	var wg sync.WaitGroup
	var mutex sync.Mutex

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			check := checker.Check(ctx)

			mutex.Lock()
			checks[name] = check

			// Update overall status
			switch check.Status {
			case StatusUnhealthy:
				overallStatus = StatusUnhealthy
			case StatusDegraded:
				if overallStatus == StatusHealthy {
					overallStatus = StatusDegraded
				}
			}
			mutex.Unlock()
		}(name, checker)
	}

	wg.Wait()

	duration := time.Since(start)

	if overallStatus != StatusHealthy {
		s.logger.Warn("Health check reported problems",
			"status", string(overallStatus),
			"duration", duration.String(),
		)
	}

	return &HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Duration:  duration,
		Checks:    checks,
		Metadata:  s.metadata,
	}
}

// Handler returns a Gin handler for health checks
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		switch health.Status {
		case StatusUnhealthy:
			statusCode = http.StatusServiceUnavailable
		case StatusDegraded:
			statusCode = http.StatusPartialContent
		}

		c.JSON(statusCode, health)
	}
}

// LivenessHandler returns a simple liveness check handler
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// ReadinessHandler returns a readiness check handler
func (s *Service) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    health.Status,
			"timestamp": health.Timestamp,
			"ready":     health.Status != StatusUnhealthy,
		})
	}
}

// QueueChecker checks the work queue's worker pool and saturation
type QueueChecker struct {
	queue *queue.WorkQueue
	name  string
}

// NewQueueChecker creates a new work queue health checker
func NewQueueChecker(q *queue.WorkQueue, name string) *QueueChecker {
	return &QueueChecker{
		queue: q,
		name:  name,
	}
}

// Check performs work queue health check
func (qc *QueueChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      qc.name,
		Timestamp: start,
	}

	if qc.queue == nil {
		check.Status = StatusUnhealthy
		check.Error = "work queue is nil"
		check.Duration = time.Since(start)
		return check
	}

	if !qc.queue.Running() {
		check.Status = StatusUnhealthy
		check.Error = "worker pool is not running"
		check.Duration = time.Since(start)
		return check
	}

	depth := qc.queue.Depth()
	capacity := qc.queue.Capacity()
	stats := qc.queue.Stats()

	check.Status = StatusHealthy
	check.Message = "work queue is healthy"
	check.Duration = time.Since(start)
	check.Metadata = map[string]string{
		"depth":     fmt.Sprintf("%d", depth),
		"capacity":  fmt.Sprintf("%d", capacity),
		"workers":   fmt.Sprintf("%d", qc.queue.WorkerCount()),
		"processed": fmt.Sprintf("%d", stats.Processed),
		"rejected":  fmt.Sprintf("%d", stats.Rejected),
	}

	// Check if the queue is filling up faster than it drains
	if capacity > 0 && depth > int(float64(capacity)*0.8) {
		check.Status = StatusDegraded
		check.Message = "work queue is near capacity"
	}

	return check
}

// BreakerChecker reports a failure breaker's state as component health
type BreakerChecker struct {
	breaker *resilience.FailureBreaker
	name    string
}

// NewBreakerChecker creates a new failure breaker health checker
func NewBreakerChecker(breaker *resilience.FailureBreaker, name string) *BreakerChecker {
	return &BreakerChecker{
		breaker: breaker,
		name:    name,
	}
}

// Check performs failure breaker health check
func (bc *BreakerChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      bc.name,
		Timestamp: start,
	}

	if bc.breaker == nil {
		check.Status = StatusUnhealthy
		check.Error = "failure breaker is nil"
		check.Duration = time.Since(start)
		return check
	}

	state := bc.breaker.State()
	failures, successes := bc.breaker.Counts()

	switch state {
	case resilience.StateOpen:
		check.Status = StatusUnhealthy
		check.Message = "failure breaker is open"
	case resilience.StateHalfOpen:
		check.Status = StatusDegraded
		check.Message = "failure breaker is probing recovery"
	default:
		check.Status = StatusHealthy
		check.Message = "failure breaker is closed"
	}

	check.Duration = time.Since(start)
	check.Metadata = map[string]string{
		"state":     state.String(),
		"failures":  fmt.Sprintf("%d", failures),
		"successes": fmt.Sprintf("%d", successes),
	}

	return check
}

// MonitorChecker maps the degradation monitor's level to a health status
type MonitorChecker struct {
	monitor *resilience.DegradationMonitor
	name    string
}

// NewMonitorChecker creates a new degradation monitor health checker
func NewMonitorChecker(monitor *resilience.DegradationMonitor, name string) *MonitorChecker {
	return &MonitorChecker{
		monitor: monitor,
		name:    name,
	}
}

// Check performs degradation level health check
func (mc *MonitorChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      mc.name,
		Timestamp: start,
	}

	if mc.monitor == nil {
		check.Status = StatusUnknown
		check.Message = "no degradation monitor configured"
		check.Duration = time.Since(start)
		return check
	}

	level := mc.monitor.Level()
	unhealthy := mc.monitor.UnhealthyDependencies()

	switch level {
	case resilience.LevelCritical:
		check.Status = StatusUnhealthy
		check.Message = "pipeline is critically degraded"
	case resilience.LevelSevere, resilience.LevelPartial:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("pipeline is running at %s degradation", level.String())
	default:
		check.Status = StatusHealthy
		check.Message = "all dependencies are healthy"
	}

	check.Duration = time.Since(start)
	check.Metadata = map[string]string{
		"level": level.String(),
	}
	if len(unhealthy) > 0 {
		check.Metadata["unhealthy_dependencies"] = strings.Join(unhealthy, ",")
	}

	return check
}

// RedisChecker checks Redis connectivity
type RedisChecker struct {
	redis *queue.RedisClient
	name  string
}

// NewRedisChecker creates a new Redis health checker
func NewRedisChecker(redis *queue.RedisClient, name string) *RedisChecker {
	return &RedisChecker{
		redis: redis,
		name:  name,
	}
}

// Check performs Redis health check
func (rc *RedisChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      rc.name,
		Timestamp: start,
	}

	if rc.redis == nil {
		check.Status = StatusUnhealthy
		check.Error = "redis connection is nil"
		check.Duration = time.Since(start)
		return check
	}

	// Check Redis connectivity
	if err := rc.redis.Health(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
		check.Duration = time.Since(start)
		return check
	}

	// Get connection stats
	stats := rc.redis.Stats()
	check.Status = StatusHealthy
	check.Message = "redis is healthy"
	check.Duration = time.Since(start)
	check.Metadata = map[string]string{
		"total_connections": fmt.Sprintf("%d", stats.TotalConns),
		"idle_connections":  fmt.Sprintf("%d", stats.IdleConns),
		"stale_connections": fmt.Sprintf("%d", stats.StaleConns),
	}

	return check
}

// HTTPChecker checks HTTP endpoint health
type HTTPChecker struct {
	url    string
	name   string
	client *http.Client
}

// NewHTTPChecker creates a new HTTP health checker
func NewHTTPChecker(url, name string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		url:  url,
		name: name,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Check performs HTTP health check
func (hc *HTTPChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      hc.name,
		Timestamp: start,
	}

	req, err := http.NewRequestWithContext(ctx, "GET", hc.url, nil)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Error = fmt.Sprintf("failed to create request: %v", err)
		check.Duration = time.Since(start)
		return check
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Error = fmt.Sprintf("request failed: %v", err)
		check.Duration = time.Since(start)
		return check
	}
	defer resp.Body.Close()

	check.Duration = time.Since(start)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		check.Status = StatusHealthy
		check.Message = "endpoint is healthy"
	} else if resp.StatusCode >= 500 {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	} else {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	}

	check.Metadata = map[string]string{
		"status_code":   fmt.Sprintf("%d", resp.StatusCode),
		"response_time": check.Duration.String(),
	}

	return check
}

// CustomChecker allows for custom health checks
type CustomChecker struct {
	name     string
	checkFn  func(ctx context.Context) (Status, string, error)
	metadata map[string]string
}

// NewCustomChecker creates a new custom health checker
func NewCustomChecker(name string, checkFn func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{
		name:     name,
		checkFn:  checkFn,
		metadata: make(map[string]string),
	}
}

// WithMetadata adds metadata to the custom checker
func (cc *CustomChecker) WithMetadata(metadata map[string]string) *CustomChecker {
	cc.metadata = metadata
	return cc
}

// Check performs custom health check
func (cc *CustomChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      cc.name,
		Timestamp: start,
		Metadata:  cc.metadata,
	}

	status, message, err := cc.checkFn(ctx)
	check.Status = status
	check.Message = message
	check.Duration = time.Since(start)

	if err != nil {
		check.Error = err.Error()
		if check.Status == StatusHealthy {
			check.Status = StatusUnhealthy
		}
	}

	return check
}
