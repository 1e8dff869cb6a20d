package resilience

import (
	"sync"
	"time"

	"github.com/final5team-odiga/EssayAgents/pkg/logging"
)

// DegradationLevel represents the level of pipeline degradation
type DegradationLevel int

const (
	// LevelNormal - all dependencies are operational
	LevelNormal DegradationLevel = iota
	// LevelPartial - some dependencies are degraded but generation works
	LevelPartial
	// LevelSevere - significant degradation, only essential generation works
	LevelSevere
	// LevelCritical - the pipeline can only serve fallback results
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelPartial:
		return "PARTIAL"
	case LevelSevere:
		return "SEVERE"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// DependencyHealth represents the observed health of a pipeline dependency
type DependencyHealth struct {
	Name         string
	Healthy      bool
	LastCheck    time.Time
	ErrorCount   int
	ResponseTime time.Duration
	Message      string
}

// DegradationMonitor aggregates dependency health observations into a single
// pipeline degradation level. It never probes anything itself; callers feed
// it observations from health checks, breaker transitions, and queue stats.
type DegradationMonitor struct {
	deps   map[string]*DependencyHealth
	mutex  sync.RWMutex
	logger *logging.Logger

	unhealthyThreshold int
	levels             map[string]DegradationLevel
}

// NewDegradationMonitor creates a degradation monitor
func NewDegradationMonitor() *DegradationMonitor {
	return &DegradationMonitor{
		deps:               make(map[string]*DependencyHealth),
		logger:             logging.GetLogger().WithComponent("degradation"),
		unhealthyThreshold: 3,
		levels:             make(map[string]DegradationLevel),
	}
}

// Register adds a dependency to the monitor. The level is the degradation
// the pipeline enters when this dependency alone is unhealthy.
func (dm *DegradationMonitor) Register(name string, level DegradationLevel) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.deps[name] = &DependencyHealth{
		Name:      name,
		Healthy:   true,
		LastCheck: time.Now(),
	}
	dm.levels[name] = level
}

// Observe records one health observation for a dependency. A healthy
// observation clears the error count immediately; unhealthy observations
// accumulate until the threshold marks the dependency down.
func (dm *DegradationMonitor) Observe(name string, healthy bool, responseTime time.Duration, message string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dep, exists := dm.deps[name]
	if !exists {
		dm.logger.Warn("Observation for unregistered dependency", "dependency", name)
		return
	}

	dep.LastCheck = time.Now()
	dep.ResponseTime = responseTime
	dep.Message = message

	if healthy {
		dep.Healthy = true
		dep.ErrorCount = 0
	} else {
		dep.ErrorCount++
		if dep.ErrorCount >= dm.unhealthyThreshold {
			dep.Healthy = false
		}
	}

	dm.logger.Debug("Dependency health updated",
		"dependency", name,
		"healthy", dep.Healthy,
		"error_count", dep.ErrorCount,
		"response_time", responseTime,
		"message", message,
	)
}

// BreakerCallback returns a state-change callback that feeds breaker
// transitions into the monitor. Open means the dependency behind the breaker
// is down; closed means it recovered. Wire it into FailureBreakerConfig.
func (dm *DegradationMonitor) BreakerCallback() func(name string, from, to BreakerState) {
	return func(name string, from, to BreakerState) {
		switch to {
		case StateOpen:
			// Force the dependency unhealthy without waiting for the
			// observation threshold: the breaker already counted failures.
			dm.mutex.Lock()
			if dep, exists := dm.deps[name]; exists {
				dep.LastCheck = time.Now()
				dep.ErrorCount = dm.unhealthyThreshold
				dep.Healthy = false
				dep.Message = "breaker open"
			}
			dm.mutex.Unlock()
		case StateClosed:
			dm.Observe(name, true, 0, "breaker closed")
		}
	}
}

// Level returns the current pipeline degradation level. The level of the
// worst unhealthy dependency wins, escalated further when a large share of
// dependencies is down at once.
func (dm *DegradationMonitor) Level() DegradationLevel {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	maxLevel := LevelNormal
	unhealthy := 0
	total := len(dm.deps)

	for name, dep := range dm.deps {
		if !dep.Healthy {
			unhealthy++
			if level, exists := dm.levels[name]; exists && level > maxLevel {
				maxLevel = level
			}
		}
	}

	if total > 0 {
		share := float64(unhealthy) / float64(total)
		if share >= 0.75 {
			if maxLevel < LevelCritical {
				maxLevel = LevelCritical
			}
		} else if share >= 0.5 {
			if maxLevel < LevelSevere {
				maxLevel = LevelSevere
			}
		} else if share >= 0.25 {
			if maxLevel < LevelPartial {
				maxLevel = LevelPartial
			}
		}
	}

	return maxLevel
}

// Dependency returns a copy of one dependency's health
func (dm *DegradationMonitor) Dependency(name string) (*DependencyHealth, bool) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	dep, exists := dm.deps[name]
	if !exists {
		return nil, false
	}

	copied := *dep
	return &copied, true
}

// Snapshot returns a copy of every dependency's health
func (dm *DegradationMonitor) Snapshot() map[string]*DependencyHealth {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	result := make(map[string]*DependencyHealth, len(dm.deps))
	for name, dep := range dm.deps {
		copied := *dep
		result[name] = &copied
	}
	return result
}

// IsHealthy reports whether a dependency is currently healthy
func (dm *DegradationMonitor) IsHealthy(name string) bool {
	dep, exists := dm.Dependency(name)
	return exists && dep.Healthy
}

// HealthyDependencies returns the names of healthy dependencies
func (dm *DegradationMonitor) HealthyDependencies() []string {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var healthy []string
	for name, dep := range dm.deps {
		if dep.Healthy {
			healthy = append(healthy, name)
		}
	}
	return healthy
}

// UnhealthyDependencies returns the names of unhealthy dependencies
func (dm *DegradationMonitor) UnhealthyDependencies() []string {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var unhealthy []string
	for name, dep := range dm.deps {
		if !dep.Healthy {
			unhealthy = append(unhealthy, name)
		}
	}
	return unhealthy
}

// PipelinePolicy maps the monitor's degradation level onto concrete pipeline
// decisions: whether new work may be queued asynchronously, whether results
// are archived, and whether cross-session context may be read.
type PipelinePolicy struct {
	monitor *DegradationMonitor
	logger  *logging.Logger
}

// NewPipelinePolicy creates a policy over a monitor
func NewPipelinePolicy(monitor *DegradationMonitor) *PipelinePolicy {
	return &PipelinePolicy{
		monitor: monitor,
		logger:  logging.GetLogger().WithComponent("degradation"),
	}
}

// Monitor returns the underlying degradation monitor
func (p *PipelinePolicy) Monitor() *DegradationMonitor {
	return p.monitor
}

// AllowAsync reports whether new tasks may be submitted to the work queue.
// At critical degradation callers fall back to the flat synchronous path so
// the queue does not accumulate work the backend cannot serve.
func (p *PipelinePolicy) AllowAsync() (bool, string) {
	switch p.monitor.Level() {
	case LevelNormal:
		return true, ""
	case LevelPartial:
		return true, "operating without cross-session context"
	case LevelSevere:
		return true, "operating without result archival"
	case LevelCritical:
		return false, "async submission is disabled during critical degradation"
	default:
		return false, "unknown degradation level"
	}
}

// AllowArchive reports whether finished results should still be archived.
// Archival is the first feature shed under load: it is an optimization, not
// part of the result contract.
func (p *PipelinePolicy) AllowArchive() bool {
	return p.monitor.Level() <= LevelPartial
}

// AllowCrossSession reports whether sessions may read context from other
// sessions. Any degradation disables it to keep sessions self-contained.
func (p *PipelinePolicy) AllowCrossSession() bool {
	return p.monitor.Level() == LevelNormal
}

// Status returns the current degradation status for introspection endpoints
func (p *PipelinePolicy) Status() map[string]interface{} {
	level := p.monitor.Level()
	healthy := p.monitor.HealthyDependencies()
	unhealthy := p.monitor.UnhealthyDependencies()
	asyncAllowed, reason := p.AllowAsync()

	return map[string]interface{}{
		"degradation_level":      level.String(),
		"healthy_dependencies":   healthy,
		"unhealthy_dependencies": unhealthy,
		"total_dependencies":     len(healthy) + len(unhealthy),
		"async_allowed":          asyncAllowed,
		"async_reason":           reason,
		"archive_allowed":        p.AllowArchive(),
		"cross_session_allowed":  p.AllowCrossSession(),
	}
}
