package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureBreaker_DefaultBehavior(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{Name: "test-fb"})

	// Initially closed
	assert.Equal(t, StateClosed, fb.State())
	assert.Equal(t, "test-fb", fb.Name())

	// Successful calls keep it closed
	for i := 0; i < 5; i++ {
		result, err := fb.Execute(context.Background(), Deferred(func(ctx context.Context) (interface{}, error) {
			return "success", nil
		}))
		require.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, StateClosed, fb.State())
	}
}

func TestFailureBreaker_OpensAtThreshold(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 3,
	})

	// Failures below the threshold leave the breaker closed
	fb.RecordFailure()
	fb.RecordFailure()
	assert.Equal(t, StateClosed, fb.State())

	// The threshold failure opens it
	fb.RecordFailure()
	assert.Equal(t, StateOpen, fb.State())
}

func TestFailureBreaker_SuccessResetsFailureCount(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 3,
	})

	fb.RecordFailure()
	fb.RecordFailure()
	fb.RecordSuccess()

	failures, _ := fb.Counts()
	assert.Equal(t, 0, failures)

	// The count starts over, so two more failures do not open the breaker
	fb.RecordFailure()
	fb.RecordFailure()
	assert.Equal(t, StateClosed, fb.State())
}

func TestFailureBreaker_OpenRejectsFast(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	})

	fb.RecordFailure()
	fb.RecordFailure()
	require.Equal(t, StateOpen, fb.State())

	executed := false
	_, err := fb.Execute(context.Background(), Deferred(func(ctx context.Context) (interface{}, error) {
		executed = true
		return "should not execute", nil
	}))
	require.Error(t, err)
	assert.True(t, IsBreakerOpen(err))
	assert.Contains(t, err.Error(), "test-fb")
	assert.False(t, executed)

	// A rejection leaves the counters untouched
	failures, _ := fb.Counts()
	assert.Equal(t, 2, failures)
}

func TestFailureBreaker_LazyRecovery(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	fb.RecordFailure()
	fb.RecordFailure()
	assert.Equal(t, StateOpen, fb.State())

	// The transition happens on the first state read after the timeout,
	// not on a timer
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, fb.State())
}

func TestFailureBreaker_HalfOpenFailureReopens(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 3,
		RecoveryTimeout:  100 * time.Millisecond,
	})

	fb.RecordFailure()
	fb.RecordFailure()
	fb.RecordFailure()
	require.Equal(t, StateOpen, fb.State())

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, StateHalfOpen, fb.State())

	// A single failure during probation reopens immediately
	fb.RecordFailure()
	assert.Equal(t, StateOpen, fb.State())

	// And a full recovery wait is required again
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateOpen, fb.State())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, fb.State())
}

func TestFailureBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenAttempts: 2,
	})

	fb.RecordFailure()
	fb.RecordFailure()
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StateHalfOpen, fb.State())

	// One success is not enough
	fb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, fb.State())

	// The second closes the breaker and clears the counters
	fb.RecordSuccess()
	assert.Equal(t, StateClosed, fb.State())

	failures, successes := fb.Counts()
	assert.Equal(t, 0, failures)
	assert.Equal(t, 0, successes)
}

func TestFailureBreaker_ReopenResetsProbation(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenAttempts: 2,
	})

	fb.RecordFailure()
	fb.RecordFailure()
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StateHalfOpen, fb.State())

	// One success, then a failure: probation progress is lost
	fb.RecordSuccess()
	fb.RecordFailure()
	require.Equal(t, StateOpen, fb.State())

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StateHalfOpen, fb.State())

	// Closing still takes the full number of successes
	fb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, fb.State())
	fb.RecordSuccess()
	assert.Equal(t, StateClosed, fb.State())
}

func TestFailureBreaker_AbandonedWaitNotRecorded(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := fb.Execute(ctx, Deferred(func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// The caller gave up; the dependency was not proven unhealthy
	failures, successes := fb.Counts()
	assert.Equal(t, 0, failures)
	assert.Equal(t, 0, successes)
	assert.Equal(t, StateClosed, fb.State())
}

func TestFailureBreaker_ExecuteRecordsFailures(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 2,
	})

	for i := 0; i < 2; i++ {
		_, err := fb.Execute(context.Background(), Deferred(func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("backend error")
		}))
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, fb.State())
}

func TestFailureBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenAttempts: 1,
		OnStateChange: func(name string, from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	fb.RecordFailure()
	time.Sleep(80 * time.Millisecond)
	fb.State()
	fb.RecordSuccess()

	assert.Equal(t, []string{
		"CLOSED->OPEN",
		"OPEN->HALF_OPEN",
		"HALF_OPEN->CLOSED",
	}, transitions)
}

func TestFailureBreaker_Reset(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{
		Name:             "test-fb",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	fb.RecordFailure()
	require.Equal(t, StateOpen, fb.State())

	fb.Reset()
	assert.Equal(t, StateClosed, fb.State())

	failures, successes := fb.Counts()
	assert.Equal(t, 0, failures)
	assert.Equal(t, 0, successes)
}

func TestFailureBreaker_Call(t *testing.T) {
	fb := NewFailureBreaker(FailureBreakerConfig{Name: "test-fb"})

	result, err := fb.Call(func() (interface{}, error) {
		return "success", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result)

	_, err = fb.Call(func() (interface{}, error) {
		return nil, errors.New("test error")
	})
	require.Error(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestIsBreakerOpen(t *testing.T) {
	assert.True(t, IsBreakerOpen(&BreakerOpenError{Name: "x"}))
	assert.False(t, IsBreakerOpen(errors.New("regular error")))
	assert.False(t, IsBreakerOpen(nil))
}
