package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/final5team-odiga/EssayAgents/pkg/errors"
	"github.com/final5team-odiga/EssayAgents/pkg/metrics"
	"github.com/final5team-odiga/EssayAgents/pkg/resilience"
)

// Default work item budgets
const (
	DefaultItemTimeout = 300 * time.Second
	DefaultItemRetries = 3
)

// WorkItem represents a unit of schedulable work
type WorkItem struct {
	ID         string               `json:"id"`
	Op         resilience.Operation `json:"-"`
	Priority   int                  `json:"priority"`
	MaxRetries int                  `json:"max_retries"`
	Retry      int                  `json:"retry"`
	Timeout    time.Duration        `json:"timeout"`
	CreatedAt  time.Time            `json:"created_at"`
	SessionID  string               `json:"session_id,omitempty"`
}

// NewWorkItem creates a new work item with default budgets. An empty id gets a
// generated UUID. Lower priority values are dequeued first.
func NewWorkItem(id string, op resilience.Operation) *WorkItem {
	if id == "" {
		id = uuid.New().String()
	}

	return &WorkItem{
		ID:         id,
		Op:         op,
		Priority:   0,
		MaxRetries: DefaultItemRetries,
		Timeout:    DefaultItemTimeout,
		CreatedAt:  time.Now(),
	}
}

// WithPriority sets the item priority (lower value = earlier dequeue)
func (w *WorkItem) WithPriority(priority int) *WorkItem {
	w.Priority = priority
	return w
}

// WithTimeout sets the per-execution timeout
func (w *WorkItem) WithTimeout(timeout time.Duration) *WorkItem {
	w.Timeout = timeout
	return w
}

// WithRetries sets the retry budget for a retrying owner. The queue itself
// executes an item exactly once; retry composition happens in the executor.
func (w *WorkItem) WithRetries(maxRetries int) *WorkItem {
	w.MaxRetries = maxRetries
	return w
}

// WithSession tags the item with a session id for the result archive
func (w *WorkItem) WithSession(sessionID string) *WorkItem {
	w.SessionID = sessionID
	return w
}

// Validate validates the work item
func (w *WorkItem) Validate() error {
	if w.ID == "" {
		return errors.NewValidationError("work item ID is required")
	}

	if w.Op.IsZero() {
		return errors.NewValidationError("work item operation is required")
	}

	if w.Timeout <= 0 {
		return errors.NewValidationError("work item timeout must be positive")
	}

	if w.MaxRetries < 0 {
		return errors.NewValidationError("work item max retries must not be negative")
	}

	if w.Retry > w.MaxRetries {
		return errors.NewValidationError("work item retry count exceeds its budget")
	}

	return nil
}

// ResultStatus tags the outcome of an executed work item
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultTimeout ResultStatus = "timeout"
	ResultError   ResultStatus = "error"
)

// Result represents the stored outcome of a work item. Entries are overwritten
// when an item id is reused and never expire on their own.
type Result struct {
	ItemID     string        `json:"item_id"`
	Status     ResultStatus  `json:"status"`
	Value      interface{}   `json:"value,omitempty"`
	Err        string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Config contains work queue configuration
type Config struct {
	Name            string        `json:"name"`
	MaxWorkers      int           `json:"max_workers"`
	MaxQueueSize    int           `json:"max_queue_size"`
	BatchSize       int           `json:"batch_size"`
	PollInterval    time.Duration `json:"poll_interval"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// Optional collaborators; nil disables them.
	Archive *ResultArchive   `json:"-"`
	Metrics *metrics.Metrics `json:"-"`
}

// DefaultConfig returns the single-item queue configuration
func DefaultConfig() Config {
	return Config{
		Name:            "work_queue",
		MaxWorkers:      2,
		MaxQueueSize:    50,
		BatchSize:       1,
		PollInterval:    1 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// GroupedConfig returns the batch-grouped queue configuration: items are pulled
// in fixed-size groups and executed concurrently under a shared gate.
func GroupedConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "grouped_queue"
	cfg.BatchSize = 3
	return cfg
}

// Stats contains cumulative queue statistics
type Stats struct {
	Enqueued   int64     `json:"enqueued"`
	Rejected   int64     `json:"rejected"`
	Processed  int64     `json:"processed"`
	Succeeded  int64     `json:"succeeded"`
	TimedOut   int64     `json:"timed_out"`
	Failed     int64     `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	LastItemAt time.Time `json:"last_item_at"`
}
