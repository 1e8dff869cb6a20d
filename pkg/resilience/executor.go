package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	apperrors "github.com/final5team-odiga/EssayAgents/pkg/errors"
	"github.com/final5team-odiga/EssayAgents/pkg/logging"
)

// Default executor settings.
const (
	DefaultMaxRetries     = 2
	DefaultInitialTimeout = 180 * time.Second
	DefaultBackoffFactor  = 1.5
)

// ExecutorConfig holds configuration for a resilient executor
type ExecutorConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// InitialTimeout is the wall-clock budget for the first attempt
	InitialTimeout time.Duration
	// BackoffFactor scales both the sleep between attempts and the
	// per-attempt timeout; must be greater than 1
	BackoffFactor float64
	// Breaker guards all attempts; a new breaker with default settings is
	// created when nil
	Breaker *FailureBreaker
	// Depth is the cooperative depth budget shared with callers; a new
	// budget with default settings is created when nil
	Depth *DepthBudget
	// Fallback produces the placeholder result for a task id; defaults to
	// a deterministic string marker
	Fallback func(taskID string) interface{}
	// OnRetry is invoked before each backoff sleep
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultExecutorConfig returns the default executor configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:     DefaultMaxRetries,
		InitialTimeout: DefaultInitialTimeout,
		BackoffFactor:  DefaultBackoffFactor,
	}
}

// ExecuteOptions overrides executor configuration for a single call. Zero
// fields inherit the executor's settings.
type ExecuteOptions struct {
	// MaxRetries overrides the retry budget; negative means no retries
	MaxRetries int
	// InitialTimeout overrides the first attempt's timeout
	InitialTimeout time.Duration
	// BackoffFactor overrides the backoff multiplier
	BackoffFactor float64
	// Breaker overrides the breaker guarding this call
	Breaker *FailureBreaker
	// OnRetry overrides the retry hook for this call
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ExecutionStats is a snapshot of the executor's counters. The counters only
// grow; ResetState is the single way to clear them.
type ExecutionStats struct {
	TotalAttempts           int64   `json:"total_attempts"`
	SuccessfulExecutions    int64   `json:"successful_executions"`
	FallbackUsed            int64   `json:"fallback_used"`
	CircuitBreakerTriggered int64   `json:"circuit_breaker_triggered"`
	TimeoutOccurred         int64   `json:"timeout_occurred"`
	SuccessRate             float64 `json:"success_rate"`
}

// ResilientExecutor runs one logical call through retries with exponential
// backoff, a growing per-attempt timeout, and a failure breaker. When the
// cooperative depth budget runs out it stops retrying and flags sync mode so
// callers switch to a flat execution strategy.
type ResilientExecutor struct {
	maxRetries     int
	initialTimeout time.Duration
	backoffFactor  float64
	breaker        *FailureBreaker
	depth          *DepthBudget
	fallback       func(taskID string) interface{}
	onRetry        func(attempt int, err error, delay time.Duration)

	syncMode atomic.Bool

	totalAttempts    atomic.Int64
	successful       atomic.Int64
	fallbackUsed     atomic.Int64
	breakerTriggered atomic.Int64
	timeoutOccurred  atomic.Int64

	logger *logging.Logger
}

// NewResilientExecutor creates an executor. Invalid or missing config fields
// fall back to the package defaults.
func NewResilientExecutor(config ExecutorConfig) *ResilientExecutor {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialTimeout <= 0 {
		config.InitialTimeout = DefaultInitialTimeout
	}
	if config.BackoffFactor <= 1 {
		config.BackoffFactor = DefaultBackoffFactor
	}
	if config.Breaker == nil {
		config.Breaker = NewFailureBreaker(FailureBreakerConfig{Name: "executor"})
	}
	if config.Depth == nil {
		config.Depth = NewDepthBudget(0, 0)
	}
	if config.Fallback == nil {
		config.Fallback = defaultFallbackResult
	}

	return &ResilientExecutor{
		maxRetries:     config.MaxRetries,
		initialTimeout: config.InitialTimeout,
		backoffFactor:  config.BackoffFactor,
		breaker:        config.Breaker,
		depth:          config.Depth,
		fallback:       config.Fallback,
		onRetry:        config.OnRetry,
		logger:         logging.GetLogger().WithComponent("resilient_executor"),
	}
}

// Execute runs op with retries, backoff, and breaker protection and returns
// its result.
//
// Value and Started inputs bypass the retry loop: there is nothing to
// re-execute, so they are awaited once under the initial timeout and a
// failure yields the fallback value instead of an error. Deferred inputs go
// through the full attempt loop; each attempt runs under its own timeout,
// failed attempts sleep backoffFactor^(k-1) seconds after attempt k and
// multiply the next attempt's timeout by the backoff factor. A depth budget
// trip aborts the loop immediately, flags sync mode, and propagates the
// *DepthLimitError so the caller can switch strategies.
func (e *ResilientExecutor) Execute(ctx context.Context, taskID string, op Operation, opts *ExecuteOptions) (interface{}, error) {
	if opts == nil {
		opts = &ExecuteOptions{}
	}

	maxRetries := e.maxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	} else if opts.MaxRetries < 0 {
		maxRetries = 0
	}
	timeout := opts.InitialTimeout
	if timeout <= 0 {
		timeout = e.initialTimeout
	}
	backoff := opts.BackoffFactor
	if backoff <= 1 {
		backoff = e.backoffFactor
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = e.breaker
	}
	onRetry := opts.OnRetry
	if onRetry == nil {
		onRetry = e.onRetry
	}

	if op.IsZero() {
		return nil, apperrors.NewValidationError("operation is required")
	}
	if op.Kind() == KindValue || op.Kind() == KindStarted {
		return e.awaitDirect(ctx, taskID, op, timeout)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := e.enterAttempt(taskID); err != nil {
			return nil, err
		}

		attemptID := fmt.Sprintf("%s-attempt-%d", taskID, attempt+1)
		e.totalAttempts.Add(1)

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		result, err := breaker.Execute(attemptCtx, op)
		cancel()
		e.depth.Leave()

		if err == nil {
			e.successful.Add(1)
			e.logger.Debug("Attempt succeeded",
				"task_id", attemptID,
				"duration", time.Since(start).String(),
			)
			return result, nil
		}
		lastErr = err

		switch {
		case IsDepthLimit(err):
			e.syncMode.Store(true)
			e.logger.Warn("Depth budget exhausted during attempt, switching to sync mode",
				"task_id", attemptID,
			)
			return nil, err
		case IsBreakerOpen(err):
			e.breakerTriggered.Add(1)
			e.logger.Warn("Breaker rejected attempt",
				"task_id", attemptID,
				"breaker", breaker.Name(),
			)
		case errors.Is(err, context.DeadlineExceeded):
			e.timeoutOccurred.Add(1)
			e.logger.Warn("Attempt timed out",
				"task_id", attemptID,
				"timeout", timeout.String(),
			)
		default:
			e.logger.Warn("Attempt failed",
				"task_id", attemptID,
				"error", err.Error(),
			)
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < maxRetries {
			delay := time.Duration(math.Pow(backoff, float64(attempt)) * float64(time.Second))
			if onRetry != nil {
				onRetry(attempt+1, err, delay)
			}
			e.logger.Info("Retrying task",
				"task_id", taskID,
				"attempt", attempt+1,
				"max_retries", maxRetries,
				"delay", delay.String(),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			timeout = time.Duration(float64(timeout) * backoff)
		}
	}

	e.logger.Error("Task exhausted its retry budget",
		"task_id", taskID,
		"attempts", maxRetries+1,
	)
	exhausted := apperrors.NewExhaustionError(taskID, maxRetries+1)
	if lastErr != nil {
		exhausted = exhausted.WithCause(lastErr)
	}
	return nil, exhausted
}

// awaitDirect collects an input that needs no re-execution. On failure it
// returns the fallback value rather than an error: the work is already done
// or doomed, and retrying cannot change its outcome.
func (e *ResilientExecutor) awaitDirect(ctx context.Context, taskID string, op Operation, timeout time.Duration) (interface{}, error) {
	e.totalAttempts.Add(1)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := op.Run(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.timeoutOccurred.Add(1)
		}
		e.logger.Warn("Direct await failed, using fallback result",
			"task_id", taskID,
			"error", err.Error(),
		)
		return e.FallbackResult(taskID), nil
	}

	e.successful.Add(1)
	return result, nil
}

// enterAttempt claims one depth level for the attempt. A rejected claim
// flags sync mode.
func (e *ResilientExecutor) enterAttempt(taskID string) error {
	if err := e.depth.Enter(); err != nil {
		e.syncMode.Store(true)
		e.logger.Warn("Depth budget exhausted, switching to sync mode",
			"task_id", taskID,
			"depth", e.depth.Depth(),
			"limit", e.depth.Limit(),
		)
		return err
	}
	return nil
}

// FallbackResult produces the deterministic placeholder for a task id and
// counts its use.
func (e *ResilientExecutor) FallbackResult(taskID string) interface{} {
	e.fallbackUsed.Add(1)
	e.logger.Info("Producing fallback result", "task_id", taskID)
	return e.fallback(taskID)
}

func defaultFallbackResult(taskID string) interface{} {
	return fmt.Sprintf("FALLBACK_RESULT_FOR_%s", taskID)
}

// ShouldUseSync reports whether callers must take the flat synchronous path
// instead of submitting more nested work. Reading it never changes the flag.
func (e *ResilientExecutor) ShouldUseSync() bool {
	return e.syncMode.Load() || e.depth.Exceeded()
}

// SetSyncMode sets or clears the sync-mode flag explicitly.
func (e *ResilientExecutor) SetSyncMode(on bool) {
	e.syncMode.Store(on)
	e.logger.Info("Sync mode changed", "sync_mode", on)
}

// Stats returns a snapshot of the execution counters.
func (e *ResilientExecutor) Stats() ExecutionStats {
	total := e.totalAttempts.Load()
	succ := e.successful.Load()
	denom := total
	if denom == 0 {
		denom = 1
	}
	return ExecutionStats{
		TotalAttempts:           total,
		SuccessfulExecutions:    succ,
		FallbackUsed:            e.fallbackUsed.Load(),
		CircuitBreakerTriggered: e.breakerTriggered.Load(),
		TimeoutOccurred:         e.timeoutOccurred.Load(),
		SuccessRate:             float64(succ) / float64(denom) * 100,
	}
}

// ResetState clears the counters, the sync-mode flag, the depth budget, and
// the breaker. Intended for operator action and test isolation, not for
// automatic recovery.
func (e *ResilientExecutor) ResetState() {
	e.totalAttempts.Store(0)
	e.successful.Store(0)
	e.fallbackUsed.Store(0)
	e.breakerTriggered.Store(0)
	e.timeoutOccurred.Store(0)
	e.syncMode.Store(false)
	e.depth.Reset()
	e.breaker.Reset()
	e.logger.Info("Executor state reset")
}

// Breaker returns the executor's default breaker.
func (e *ResilientExecutor) Breaker() *FailureBreaker {
	return e.breaker
}

// Depth returns the executor's depth budget.
func (e *ResilientExecutor) Depth() *DepthBudget {
	return e.depth
}

// SystemInfo returns a diagnostic snapshot for status endpoints.
func (e *ResilientExecutor) SystemInfo() map[string]interface{} {
	failures, successes := e.breaker.Counts()
	return map[string]interface{}{
		"max_retries":     e.maxRetries,
		"initial_timeout": e.initialTimeout.String(),
		"backoff_factor":  e.backoffFactor,
		"breaker": map[string]interface{}{
			"name":          e.breaker.Name(),
			"state":         e.breaker.State().String(),
			"failure_count": failures,
			"success_count": successes,
		},
		"depth": map[string]interface{}{
			"current":   e.depth.Depth(),
			"limit":     e.depth.Limit(),
			"buffer":    e.depth.Buffer(),
			"remaining": e.depth.Remaining(),
		},
		"sync_mode": e.syncMode.Load(),
		"stats":     e.Stats(),
	}
}
