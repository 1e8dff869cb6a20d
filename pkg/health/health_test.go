package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/final5team-odiga/EssayAgents/internal/queue"
	"github.com/final5team-odiga/EssayAgents/pkg/resilience"
)

func statusChecker(status Status) Checker {
	return NewCustomChecker("stub", func(ctx context.Context) (Status, string, error) {
		return status, "stubbed", nil
	})
}

func TestService_CheckHealth_AggregatesStatuses(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("a", statusChecker(StatusHealthy))
	svc.RegisterChecker("b", statusChecker(StatusHealthy))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)

	svc.RegisterChecker("c", statusChecker(StatusDegraded))
	resp = svc.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)

	svc.RegisterChecker("d", statusChecker(StatusUnhealthy))
	resp = svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestService_UnregisterChecker(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("a", statusChecker(StatusUnhealthy))
	svc.UnregisterChecker("a")

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestService_Handler_StatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		checkerStatus Status
		wantCode      int
	}{
		{StatusHealthy, http.StatusOK},
		{StatusDegraded, http.StatusPartialContent},
		{StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		svc := NewService(nil, nil)
		svc.RegisterChecker("stub", statusChecker(tt.checkerStatus))

		router := gin.New()
		router.GET("/health", svc.Handler())

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, tt.wantCode, w.Code, "status %s", tt.checkerStatus)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tt.checkerStatus, resp.Status)
		assert.Contains(t, resp.Checks, "stub")
	}
}

func TestService_LivenessHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := NewService(nil, nil)
	router := gin.New()
	router.GET("/health/live", svc.LivenessHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}

func TestService_ReadinessHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := NewService(nil, nil)
	svc.RegisterChecker("down", statusChecker(StatusUnhealthy))

	router := gin.New()
	router.GET("/health/ready", svc.ReadinessHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":false`)
}

func TestQueueChecker(t *testing.T) {
	nilCheck := NewQueueChecker(nil, "work_queue").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, nilCheck.Status)

	cfg := queue.DefaultConfig()
	cfg.Name = "health_check_queue"
	cfg.PollInterval = 10 * time.Millisecond
	q := queue.NewWorkQueue(cfg)

	stopped := NewQueueChecker(q, "work_queue").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, stopped.Status)
	assert.Contains(t, stopped.Error, "not running")

	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx, false)
	}()

	check := NewQueueChecker(q, "work_queue").Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "0", check.Metadata["depth"])
	assert.Equal(t, "50", check.Metadata["capacity"])
	assert.Equal(t, "2", check.Metadata["workers"])
}

func TestQueueChecker_NearCapacityDegrades(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.Name = "saturated_queue"
	cfg.MaxWorkers = 1
	cfg.MaxQueueSize = 5
	cfg.PollInterval = 10 * time.Millisecond
	q := queue.NewWorkQueue(cfg)
	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx, false)
	}()

	// Occupy the single worker so queued items cannot drain.
	blocker := queue.NewWorkItem("blocker", resilience.Deferred(func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
		return "done", nil
	}))
	require.True(t, q.Enqueue(blocker))
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		q.Enqueue(queue.NewWorkItem(fmt.Sprintf("fill-%d", i), resilience.Value(i)))
	}

	check := NewQueueChecker(q, "work_queue").Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "near capacity")
}

func TestBreakerChecker(t *testing.T) {
	nilCheck := NewBreakerChecker(nil, "model_breaker").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, nilCheck.Status)

	breaker := resilience.NewFailureBreaker(resilience.FailureBreakerConfig{
		Name:             "model",
		FailureThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	closed := NewBreakerChecker(breaker, "model_breaker").Check(context.Background())
	assert.Equal(t, StatusHealthy, closed.Status)
	assert.Equal(t, "CLOSED", closed.Metadata["state"])

	breaker.RecordFailure()
	open := NewBreakerChecker(breaker, "model_breaker").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, open.Status)
	assert.Equal(t, "OPEN", open.Metadata["state"])

	time.Sleep(80 * time.Millisecond)
	probing := NewBreakerChecker(breaker, "model_breaker").Check(context.Background())
	assert.Equal(t, StatusDegraded, probing.Status)
	assert.Equal(t, "HALF_OPEN", probing.Metadata["state"])
}

func TestMonitorChecker(t *testing.T) {
	nilCheck := NewMonitorChecker(nil, "degradation").Check(context.Background())
	assert.Equal(t, StatusUnknown, nilCheck.Status)

	monitor := resilience.NewDegradationMonitor()
	monitor.Register("model", resilience.LevelCritical)
	monitor.Register("archive", resilience.LevelPartial)
	monitor.Register("queue", resilience.LevelSevere)
	monitor.Register("sessions", resilience.LevelPartial)

	healthy := NewMonitorChecker(monitor, "degradation").Check(context.Background())
	assert.Equal(t, StatusHealthy, healthy.Status)
	assert.Equal(t, "NORMAL", healthy.Metadata["level"])

	for i := 0; i < 3; i++ {
		monitor.Observe("archive", false, 0, "write refused")
	}
	degraded := NewMonitorChecker(monitor, "degradation").Check(context.Background())
	assert.Equal(t, StatusDegraded, degraded.Status)
	assert.Equal(t, "PARTIAL", degraded.Metadata["level"])
	assert.Contains(t, degraded.Metadata["unhealthy_dependencies"], "archive")

	for i := 0; i < 3; i++ {
		monitor.Observe("model", false, 0, "timeout")
	}
	critical := NewMonitorChecker(monitor, "degradation").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, critical.Status)
	assert.Equal(t, "CRITICAL", critical.Metadata["level"])
}

func TestRedisChecker_NilConnection(t *testing.T) {
	check := NewRedisChecker(nil, "redis").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Error, "nil")
}

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		code int
		want Status
	}{
		{http.StatusOK, StatusHealthy},
		{http.StatusNotFound, StatusDegraded},
		{http.StatusInternalServerError, StatusUnhealthy},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))

		check := NewHTTPChecker(server.URL, "endpoint", time.Second).Check(context.Background())
		assert.Equal(t, tt.want, check.Status, "code %d", tt.code)
		assert.Equal(t, fmt.Sprintf("%d", tt.code), check.Metadata["status_code"])

		server.Close()
	}

	// Unreachable endpoint
	down := NewHTTPChecker("http://localhost:1", "endpoint", 200*time.Millisecond).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, down.Status)
}

func TestCustomChecker_ErrorForcesUnhealthy(t *testing.T) {
	checker := NewCustomChecker("flaky", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "claims healthy", fmt.Errorf("but errored")
	})

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "but errored", check.Error)
}
