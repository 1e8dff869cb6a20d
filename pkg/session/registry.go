// Package session partitions agent results into isolated per-session spaces
// so concurrent pipeline runs never observe each other's data by accident.
// The registry is an explicit dependency: construct one, pass it around.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/final5team-odiga/EssayAgents/pkg/errors"
	"github.com/final5team-odiga/EssayAgents/pkg/logging"
)

// IsolationLevel controls how much of a session's history is visible
type IsolationLevel string

const (
	// IsolationStrict - own results only, never shared across sessions
	IsolationStrict IsolationLevel = "strict"
	// IsolationModerate - own recent results (last hour) only
	IsolationModerate IsolationLevel = "moderate"
	// IsolationMinimal - full own history, shareable when learning is enabled
	IsolationMinimal IsolationLevel = "minimal"
)

// Valid reports whether the level is one of the known isolation levels
func (l IsolationLevel) Valid() bool {
	switch l {
	case IsolationStrict, IsolationModerate, IsolationMinimal:
		return true
	}
	return false
}

// ParseIsolationLevel parses a string into an isolation level
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	level := IsolationLevel(s)
	if !level.Valid() {
		return "", errors.NewValidationError(fmt.Sprintf("unknown isolation level %q", s))
	}
	return level, nil
}

// Default session settings.
const (
	DefaultRetention         = 24 * time.Hour
	DefaultCrossSessionLimit = 3
	DefaultRecentLimit       = 10

	// moderateWindow is how far back moderate isolation can see.
	moderateWindow = time.Hour
)

// Config holds per-session settings. Zero fields fall back to strict
// isolation with the default retention and no cross-session learning.
type Config struct {
	// IsolationLevel controls result visibility
	IsolationLevel IsolationLevel
	// Retention is how long the session survives CleanupExpired
	Retention time.Duration
	// CrossSessionLearning allows this session to read other sessions'
	// results through the registry
	CrossSessionLearning bool
	// Guard, when set, vets every stored value; a non-nil error rejects
	// the value and counts it instead of storing it
	Guard func(agent string, value interface{}) error
}

// Record is one stored agent result with its storage time
type Record struct {
	StoredAt time.Time   `json:"stored_at"`
	Value    interface{} `json:"value"`
}

// Session is one isolated result space. All result access goes through the
// session's own mutex; the registry is never locked for result traffic.
type Session struct {
	id        string
	createdAt time.Time
	config    Config

	mu       sync.Mutex
	results  map[string][]Record
	rejected int64

	logger *logging.Logger
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns the session creation time
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Config returns the session configuration
func (s *Session) Config() Config {
	return s.config
}

// Age returns how long the session has existed
func (s *Session) Age() time.Duration {
	return time.Since(s.createdAt)
}

// Expired reports whether the session has outlived its retention
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.createdAt) > s.config.Retention
}

// StoreResult appends one agent result to the session. A configured guard can
// reject the value; rejections are counted and returned as session errors.
func (s *Session) StoreResult(agent string, value interface{}) error {
	if s.config.Guard != nil {
		if err := s.config.Guard(agent, value); err != nil {
			s.mu.Lock()
			s.rejected++
			s.mu.Unlock()
			s.logger.Warn("Session rejected an agent result",
				"session_id", s.id,
				"agent", agent,
				"reason", err.Error(),
			)
			return errors.NewSessionError(s.id, fmt.Sprintf("result rejected for agent %s", agent)).WithCause(err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.results == nil {
		s.results = make(map[string][]Record)
	}
	s.results[agent] = append(s.results[agent], Record{
		StoredAt: time.Now(),
		Value:    value,
	})
	return nil
}

// Results returns the agent's results visible at the session's isolation
// level: strict and minimal see the full own history, moderate sees only the
// last hour.
func (s *Session) Results(agent string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked(agent, time.Now())
}

// visibleLocked applies the isolation filter. Callers must hold the mutex.
func (s *Session) visibleLocked(agent string, now time.Time) []interface{} {
	records := s.results[agent]
	if len(records) == 0 {
		return nil
	}

	out := make([]interface{}, 0, len(records))
	for _, rec := range records {
		if s.config.IsolationLevel == IsolationModerate && now.Sub(rec.StoredAt) >= moderateWindow {
			continue
		}
		out = append(out, rec.Value)
	}
	return out
}

// RecentResults returns up to max of the agent's newest visible results.
// Non-positive max falls back to the default of 10.
func (s *Session) RecentResults(agent string, max int) []interface{} {
	if max <= 0 {
		max = DefaultRecentLimit
	}

	visible := s.Results(agent)
	if len(visible) > max {
		visible = visible[len(visible)-max:]
	}
	return visible
}

// Agents returns the names of agents with stored results
func (s *Session) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make([]string, 0, len(s.results))
	for agent := range s.results {
		agents = append(agents, agent)
	}
	return agents
}

// ResultCount returns the total number of stored records across all agents
func (s *Session) ResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, records := range s.results {
		total += len(records)
	}
	return total
}

// RejectedCount returns how many values the guard refused
func (s *Session) RejectedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Registry owns the live sessions. It is handed to components as an explicit
// dependency; there is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string

	logger *logging.Logger
}

// NewRegistry creates a session registry. A nil logger falls back to the
// global one.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.WithComponent("session_registry"),
	}
}

// Create registers a new session. Zero config fields get defaults: strict
// isolation, 24h retention.
func (r *Registry) Create(cfg Config) *Session {
	if !cfg.IsolationLevel.Valid() {
		cfg.IsolationLevel = IsolationStrict
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	now := time.Now()
	id := fmt.Sprintf("session_%d_%s", now.Unix(), uuid.New().String()[:8])

	s := &Session{
		id:        id,
		createdAt: now,
		config:    cfg,
		results:   make(map[string][]Record),
		logger:    r.logger,
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.logger.Info("Session created",
		"session_id", id,
		"isolation_level", string(cfg.IsolationLevel),
		"retention", cfg.Retention.String(),
		"cross_session_learning", cfg.CrossSessionLearning,
	)
	return s
}

// Get returns a session by id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns the live session ids in creation order
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CrossSessionResults returns the agent's results from other sessions, in
// session creation order. The current session must have cross-session
// learning enabled and must not be strictly isolated; at most maxSessions
// other sessions contribute (default 3). Each source session applies its own
// isolation filter to what it shares.
func (r *Registry) CrossSessionResults(currentID, agent string, maxSessions int) []interface{} {
	current, ok := r.Get(currentID)
	if !ok {
		return nil
	}
	if !current.config.CrossSessionLearning || current.config.IsolationLevel == IsolationStrict {
		return nil
	}
	if maxSessions <= 0 {
		maxSessions = DefaultCrossSessionLimit
	}

	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	var out []interface{}
	sources := 0
	for _, id := range ids {
		if id == currentID || sources >= maxSessions {
			continue
		}
		source, ok := r.Get(id)
		if !ok {
			continue
		}
		out = append(out, source.Results(agent)...)
		sources++
	}

	r.logger.Debug("Cross-session results collected",
		"session_id", currentID,
		"agent", agent,
		"sources", sources,
		"results", len(out),
	)
	return out
}

// Remove deletes a session by id
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// removeLocked deletes a session. Callers must hold the write lock.
func (r *Registry) removeLocked(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}

	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// CleanupExpired removes sessions older than their retention and returns how
// many were removed. There is no background timer; callers decide when
// lifecycle maintenance runs.
func (r *Registry) CleanupExpired() int {
	now := time.Now()

	r.mu.Lock()
	var expired []string
	for id, s := range r.sessions {
		if s.Expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		r.removeLocked(id)
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.logger.Info("Expired session removed", "session_id", id)
	}
	return len(expired)
}

// Stats returns registry-level counters for introspection endpoints
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byLevel := make(map[string]int)
	totalResults := 0
	for _, s := range r.sessions {
		byLevel[string(s.config.IsolationLevel)]++
		totalResults += s.ResultCount()
	}

	return map[string]interface{}{
		"sessions":      len(r.sessions),
		"by_isolation":  byLevel,
		"total_results": totalResults,
	}
}
