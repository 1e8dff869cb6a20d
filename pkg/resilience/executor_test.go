package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/final5team-odiga/EssayAgents/pkg/errors"
)

func newTestExecutor(overrides ExecutorConfig) *ResilientExecutor {
	if overrides.InitialTimeout == 0 {
		overrides.InitialTimeout = 5 * time.Second
	}
	if overrides.Breaker == nil {
		overrides.Breaker = NewFailureBreaker(FailureBreakerConfig{
			Name:             "test-executor",
			FailureThreshold: 100,
		})
	}
	return NewResilientExecutor(overrides)
}

func TestResilientExecutor_SuccessFirstAttempt(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{MaxRetries: 2, BackoffFactor: 1.5})

	result, err := e.Execute(context.Background(), "task-1", Deferred(func(ctx context.Context) (interface{}, error) {
		return "generated", nil
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, "generated", result)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.TotalAttempts)
	assert.Equal(t, int64(1), stats.SuccessfulExecutions)
	assert.Equal(t, float64(100), stats.SuccessRate)
}

func TestResilientExecutor_RetriesThenSucceeds(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{MaxRetries: 2, BackoffFactor: 1.5})

	var calls atomic.Int32
	var retryAttempts []int
	var retryDelays []time.Duration

	opts := &ExecuteOptions{
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retryAttempts = append(retryAttempts, attempt)
			retryDelays = append(retryDelays, delay)
		},
	}

	result, err := e.Execute(context.Background(), "task-2", Deferred(func(ctx context.Context) (interface{}, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.New("transient failure")
		}
		return "third time lucky", nil
	}), opts)
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", result)
	assert.Equal(t, int32(3), calls.Load())

	// Backoff sleeps grow by the factor: 1.5^0 then 1.5^1 seconds
	assert.Equal(t, []int{1, 2}, retryAttempts)
	require.Len(t, retryDelays, 2)
	assert.Equal(t, time.Second, retryDelays[0])
	assert.Equal(t, 1500*time.Millisecond, retryDelays[1])

	stats := e.Stats()
	assert.Equal(t, int64(3), stats.TotalAttempts)
	assert.Equal(t, int64(1), stats.SuccessfulExecutions)
}

func TestResilientExecutor_ExhaustsRetryBudget(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{MaxRetries: 1, BackoffFactor: 1.5})

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), "task-3", Deferred(func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, errors.New("permanent failure")
	}), nil)

	require.Error(t, err)
	assert.True(t, apperrors.IsExhausted(err))
	assert.Contains(t, err.Error(), "task-3")
	assert.Contains(t, err.Error(), "permanent failure")

	// First attempt plus exactly one retry
	assert.Equal(t, int32(2), calls.Load())

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.TotalAttempts)
	assert.Equal(t, int64(0), stats.SuccessfulExecutions)
	assert.Equal(t, float64(0), stats.SuccessRate)
}

func TestResilientExecutor_TimeoutGrowsPerAttempt(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{
		MaxRetries:     1,
		InitialTimeout: 100 * time.Millisecond,
		BackoffFactor:  1.5,
	})

	var mu sync.Mutex
	var budgets []time.Duration
	var calls atomic.Int32

	result, err := e.Execute(context.Background(), "task-4", Deferred(func(ctx context.Context) (interface{}, error) {
		if deadline, ok := ctx.Deadline(); ok {
			mu.Lock()
			budgets = append(budgets, time.Until(deadline))
			mu.Unlock()
		}
		if calls.Add(1) == 1 {
			// Sleep past the first attempt's deadline
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "recovered", nil
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)

	// The second attempt runs under a budget grown by the backoff factor
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, budgets, 2)
	assert.Greater(t, budgets[1], budgets[0])

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.TimeoutOccurred)
}

func TestResilientExecutor_ValueBypassesRetryLoop(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{MaxRetries: 2})

	result, err := e.Execute(context.Background(), "task-5", Value("precomputed"), nil)
	require.NoError(t, err)
	assert.Equal(t, "precomputed", result)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.TotalAttempts)
	assert.Equal(t, int64(1), stats.SuccessfulExecutions)
}

func TestResilientExecutor_StartedSuccess(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{})

	h := Go(func() (interface{}, error) {
		return "in flight", nil
	})

	result, err := e.Execute(context.Background(), "task-6", Started(h), nil)
	require.NoError(t, err)
	assert.Equal(t, "in flight", result)
}

func TestResilientExecutor_StartedFailureYieldsFallback(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{})

	h := Complete(nil, errors.New("already failed"))

	// Work already in flight cannot be re-executed, so a failure degrades
	// to the fallback value instead of an error
	result, err := e.Execute(context.Background(), "task-7", Started(h), nil)
	require.NoError(t, err)
	assert.Equal(t, "FALLBACK_RESULT_FOR_task-7", result)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.FallbackUsed)
}

func TestResilientExecutor_StartedTimeoutYieldsFallback(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{})

	h := Go(func() (interface{}, error) {
		time.Sleep(500 * time.Millisecond)
		return "too late", nil
	})

	opts := &ExecuteOptions{InitialTimeout: 30 * time.Millisecond}
	result, err := e.Execute(context.Background(), "task-8", Started(h), opts)
	require.NoError(t, err)
	assert.Equal(t, "FALLBACK_RESULT_FOR_task-8", result)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.TimeoutOccurred)
	assert.Equal(t, int64(1), stats.FallbackUsed)
}

func TestResilientExecutor_DepthGateBlocksAttempts(t *testing.T) {
	depth := NewDepthBudget(4, 1)
	e := newTestExecutor(ExecutorConfig{Depth: depth})

	// Exhaust the budget before submitting
	for depth.Remaining() > 0 {
		require.NoError(t, depth.Enter())
	}

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), "task-9", Deferred(func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return "never", nil
	}), nil)

	require.Error(t, err)
	assert.True(t, IsDepthLimit(err))

	// The operation never ran and the executor flipped to sync mode
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, int64(0), e.Stats().TotalAttempts)
	assert.True(t, e.ShouldUseSync())
}

func TestResilientExecutor_DepthErrorFromOperationStopsRetries(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{MaxRetries: 3})

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), "task-10", Deferred(func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, &DepthLimitError{Depth: 950, Limit: 1000, Buffer: 50}
	}), nil)

	require.Error(t, err)
	assert.True(t, IsDepthLimit(err))

	// No retries: nested depth exhaustion means retrying would dig deeper
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, e.ShouldUseSync())
}

func TestResilientExecutor_BreakerOpenRejectsAttempts(t *testing.T) {
	breaker := NewFailureBreaker(FailureBreakerConfig{
		Name:             "open-breaker",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})
	breaker.RecordFailure()
	require.Equal(t, StateOpen, breaker.State())

	e := newTestExecutor(ExecutorConfig{MaxRetries: 0, Breaker: breaker})

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), "task-11", Deferred(func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return "never", nil
	}), nil)

	require.Error(t, err)
	assert.True(t, apperrors.IsExhausted(err))

	// The rejection is preserved as the exhaustion cause
	var openErr *BreakerOpenError
	assert.True(t, errors.As(err, &openErr))

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, int64(1), e.Stats().CircuitBreakerTriggered)
}

func TestResilientExecutor_PerCallBreakerOverride(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{MaxRetries: 0})

	override := NewFailureBreaker(FailureBreakerConfig{
		Name:             "override",
		FailureThreshold: 1,
	})

	_, err := e.Execute(context.Background(), "task-12", Deferred(func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("fails once")
	}), &ExecuteOptions{Breaker: override})
	require.Error(t, err)

	// The failure landed on the override, not the executor's breaker
	failures, _ := override.Counts()
	assert.Equal(t, 1, failures)
	defaultFailures, _ := e.Breaker().Counts()
	assert.Equal(t, 0, defaultFailures)
}

func TestResilientExecutor_ContextCancelledBeforeStart(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	_, err := e.Execute(ctx, "task-13", Deferred(func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return "never", nil
	}), nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(0), calls.Load())
}

func TestResilientExecutor_ContextCancelledDuringBackoff(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{MaxRetries: 3, BackoffFactor: 1.5})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	var calls atomic.Int32
	start := time.Now()
	_, err := e.Execute(ctx, "task-14", Deferred(func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, errors.New("fail fast")
	}), nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// Cancellation interrupted the one-second backoff sleep
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), 800*time.Millisecond)
}

func TestResilientExecutor_ZeroOperationRejected(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{})

	var op Operation
	_, err := e.Execute(context.Background(), "task-15", op, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestResilientExecutor_FallbackResult(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{})

	// Identical inputs produce identical placeholders
	first := e.FallbackResult("essay-123")
	second := e.FallbackResult("essay-123")
	assert.Equal(t, "FALLBACK_RESULT_FOR_essay-123", first)
	assert.Equal(t, first, second)

	assert.Equal(t, int64(2), e.Stats().FallbackUsed)
}

func TestResilientExecutor_FallbackOverride(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{
		Fallback: func(taskID string) interface{} {
			return map[string]string{"task": taskID, "placeholder": "true"}
		},
	})

	result := e.FallbackResult("essay-9")
	m, ok := result.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "essay-9", m["task"])
}

func TestResilientExecutor_SyncModeFlag(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{})

	assert.False(t, e.ShouldUseSync())

	e.SetSyncMode(true)
	assert.True(t, e.ShouldUseSync())

	e.SetSyncMode(false)
	assert.False(t, e.ShouldUseSync())
}

func TestResilientExecutor_ResetState(t *testing.T) {
	depth := NewDepthBudget(10, 2)
	e := newTestExecutor(ExecutorConfig{Depth: depth})

	_, err := e.Execute(context.Background(), "task-16", Deferred(func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	}), nil)
	require.NoError(t, err)

	e.SetSyncMode(true)
	require.NoError(t, depth.Enter())
	e.Breaker().RecordFailure()

	e.ResetState()

	stats := e.Stats()
	assert.Equal(t, int64(0), stats.TotalAttempts)
	assert.Equal(t, int64(0), stats.SuccessfulExecutions)
	assert.False(t, e.ShouldUseSync())
	assert.Equal(t, 0, depth.Depth())

	failures, _ := e.Breaker().Counts()
	assert.Equal(t, 0, failures)
}

func TestResilientExecutor_SystemInfo(t *testing.T) {
	e := newTestExecutor(ExecutorConfig{})

	info := e.SystemInfo()
	assert.Contains(t, info, "max_retries")
	assert.Contains(t, info, "breaker")
	assert.Contains(t, info, "depth")
	assert.Contains(t, info, "sync_mode")
	assert.Contains(t, info, "stats")

	breakerInfo := info["breaker"].(map[string]interface{})
	assert.Equal(t, "CLOSED", breakerInfo["state"])
}

func TestResilientExecutor_DepthReleasedAfterAttempts(t *testing.T) {
	depth := NewDepthBudget(10, 2)
	e := newTestExecutor(ExecutorConfig{MaxRetries: 1, Depth: depth})

	_, err := e.Execute(context.Background(), "task-17", Deferred(func(ctx context.Context) (interface{}, error) {
		assert.Equal(t, 1, depth.Depth())
		return "ok", nil
	}), nil)
	require.NoError(t, err)

	// Every claimed level was released
	assert.Equal(t, 0, depth.Depth())
}
