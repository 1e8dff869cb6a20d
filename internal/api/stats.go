package api

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/final5team-odiga/EssayAgents/pkg/errors"
	"github.com/final5team-odiga/EssayAgents/pkg/session"
)

// PipelineHandler serves the introspection endpoints for the pipeline
// components
type PipelineHandler struct {
	deps Dependencies
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(deps Dependencies) *PipelineHandler {
	return &PipelineHandler{deps: deps}
}

// GetVersion returns service identity information
func (h *PipelineHandler) GetVersion(c *gin.Context) {
	SuccessResponse(c, gin.H{
		"name":    "essayagents-pipeline",
		"version": serviceVersion,
		"status":  "operational",
	})
}

// GetStats returns an aggregate snapshot across all registered components
func (h *PipelineHandler) GetStats(c *gin.Context) {
	stats := gin.H{
		"service":   "essayagents-pipeline",
		"version":   serviceVersion,
		"timestamp": time.Now(),
	}

	if q := h.deps.Queue; q != nil {
		stats["queue"] = gin.H{
			"name":     q.Name(),
			"running":  q.Running(),
			"depth":    q.Depth(),
			"capacity": q.Capacity(),
			"workers":  q.WorkerCount(),
			"counters": q.Stats(),
		}
	}

	if e := h.deps.Executor; e != nil {
		stats["executor"] = e.Stats()
		failures, successes := e.Breaker().Counts()
		stats["breaker"] = gin.H{
			"name":      e.Breaker().Name(),
			"state":     e.Breaker().State().String(),
			"failures":  failures,
			"successes": successes,
		}
	}

	if p := h.deps.Policy; p != nil {
		stats["degradation"] = p.Status()
	}

	if r := h.deps.Sessions; r != nil {
		stats["sessions"] = r.Stats()
	}

	if a := h.deps.Alerts; a != nil {
		stats["alerts"] = gin.H{
			"active": len(a.GetActiveAlerts()),
		}
	}

	SuccessResponse(c, stats)
}

// GetQueue returns the work queue state and counters
func (h *PipelineHandler) GetQueue(c *gin.Context) {
	q := h.deps.Queue
	SuccessResponse(c, gin.H{
		"name":     q.Name(),
		"running":  q.Running(),
		"depth":    q.Depth(),
		"capacity": q.Capacity(),
		"workers":  q.WorkerCount(),
		"counters": q.Stats(),
	})
}

// GetQueueResult returns the stored result for a single work item
func (h *PipelineHandler) GetQueueResult(c *gin.Context) {
	id := c.Param("id")

	result, ok := h.deps.Queue.Result(id)
	if !ok {
		ErrorResponseFromError(c, errors.NewNotFoundError("result").WithTaskID(id))
		return
	}

	SuccessResponse(c, result)
}

// GetExecutor returns the executor diagnostic snapshot
func (h *PipelineHandler) GetExecutor(c *gin.Context) {
	SuccessResponse(c, h.deps.Executor.SystemInfo())
}

// ResetExecutor clears executor counters, sync mode, depth, and the breaker
func (h *PipelineHandler) ResetExecutor(c *gin.Context) {
	h.deps.Executor.ResetState()
	SuccessResponse(c, gin.H{"reset": true})
}

// GetBreaker returns the failure breaker state
func (h *PipelineHandler) GetBreaker(c *gin.Context) {
	breaker := h.deps.Executor.Breaker()
	failures, successes := breaker.Counts()

	SuccessResponse(c, gin.H{
		"name":      breaker.Name(),
		"state":     breaker.State().String(),
		"failures":  failures,
		"successes": successes,
	})
}

// ResetBreaker forces the failure breaker back to closed
func (h *PipelineHandler) ResetBreaker(c *gin.Context) {
	breaker := h.deps.Executor.Breaker()
	breaker.Reset()

	SuccessResponse(c, gin.H{
		"reset": true,
		"state": breaker.State().String(),
	})
}

// GetDegradation returns the degradation policy status and per-dependency
// health
func (h *PipelineHandler) GetDegradation(c *gin.Context) {
	policy := h.deps.Policy
	snapshot := policy.Monitor().Snapshot()

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	dependencies := make([]gin.H, 0, len(names))
	for _, name := range names {
		dep := snapshot[name]
		dependencies = append(dependencies, gin.H{
			"name":          dep.Name,
			"healthy":       dep.Healthy,
			"last_check":    dep.LastCheck,
			"error_count":   dep.ErrorCount,
			"response_time": dep.ResponseTime.String(),
			"message":       dep.Message,
		})
	}

	SuccessResponse(c, gin.H{
		"policy":       policy.Status(),
		"dependencies": dependencies,
	})
}

// GetSessions returns registry-wide session statistics
func (h *PipelineHandler) GetSessions(c *gin.Context) {
	registry := h.deps.Sessions

	SuccessResponse(c, gin.H{
		"stats":    registry.Stats(),
		"sessions": registry.Sessions(),
	})
}

// CreateSession creates a session using the configured isolation defaults
func (h *PipelineHandler) CreateSession(c *gin.Context) {
	var cfg session.Config
	if h.deps.Config != nil {
		sc := h.deps.Config.Session
		level, err := session.ParseIsolationLevel(sc.IsolationLevel)
		if err != nil {
			level = session.IsolationStrict
		}
		cfg = session.Config{
			IsolationLevel:       level,
			Retention:            sc.Retention,
			CrossSessionLearning: sc.CrossSessionLearning,
		}
	}

	s := h.deps.Sessions.Create(cfg)
	created := s.Config()

	SuccessResponse(c, gin.H{
		"id":                     s.ID(),
		"isolation_level":        string(created.IsolationLevel),
		"retention":              created.Retention.String(),
		"cross_session_learning": created.CrossSessionLearning,
	})
}

// GetSession returns detail for a single session
func (h *PipelineHandler) GetSession(c *gin.Context) {
	id := c.Param("id")

	s, ok := h.deps.Sessions.Get(id)
	if !ok {
		ErrorResponseFromError(c, errors.NewNotFoundError("session"))
		return
	}

	cfg := s.Config()
	SuccessResponse(c, gin.H{
		"id":                     s.ID(),
		"created_at":             s.CreatedAt(),
		"age_seconds":            s.Age().Seconds(),
		"isolation_level":        string(cfg.IsolationLevel),
		"cross_session_learning": cfg.CrossSessionLearning,
		"retention":              cfg.Retention.String(),
		"agents":                 s.Agents(),
		"result_count":           s.ResultCount(),
		"rejected_count":         s.RejectedCount(),
	})
}

// CleanupSessions removes expired sessions and reports how many were dropped
func (h *PipelineHandler) CleanupSessions(c *gin.Context) {
	removed := h.deps.Sessions.CleanupExpired()
	SuccessResponse(c, gin.H{"removed": removed})
}

// GetAlerts returns the currently firing alerts
func (h *PipelineHandler) GetAlerts(c *gin.Context) {
	alerts := h.deps.Alerts.GetActiveAlerts()
	SuccessResponse(c, gin.H{
		"active": alerts,
		"count":  len(alerts),
	})
}

// GetAlertHistory returns recently fired and resolved alerts
func (h *PipelineHandler) GetAlertHistory(c *gin.Context) {
	history := h.deps.Alerts.History()
	SuccessResponse(c, gin.H{
		"history": history,
		"count":   len(history),
	})
}
