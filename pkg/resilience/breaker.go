package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/final5team-odiga/EssayAgents/pkg/logging"
)

// BreakerState represents the state of a failure breaker
type BreakerState int

const (
	// StateClosed - calls flow through and failures are counted
	StateClosed BreakerState = iota
	// StateOpen - calls are rejected without reaching the dependency
	StateOpen
	// StateHalfOpen - probation after the recovery timeout has elapsed
	StateHalfOpen
)

// String returns a string representation of the breaker state
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// FailureBreakerConfig holds configuration for a failure breaker
type FailureBreakerConfig struct {
	// Name identifies the breaker in logs and errors
	Name string
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker from the closed state
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before the next
	// state read moves it to half-open
	RecoveryTimeout time.Duration
	// HalfOpenAttempts is the number of consecutive successes in half-open
	// required to close the breaker again
	HalfOpenAttempts int
	// OnStateChange is invoked synchronously on every transition while the
	// breaker lock is held. It must not call back into the breaker.
	OnStateChange func(name string, from, to BreakerState)
}

// Default breaker settings.
const (
	DefaultFailureThreshold = 12
	DefaultRecoveryTimeout  = 90 * time.Second
	DefaultHalfOpenAttempts = 2
)

// FailureBreaker tracks consecutive failures of a dependency and rejects
// calls while the dependency is considered unhealthy.
//
// The breaker never runs a timer. The open to half-open transition happens
// lazily on whichever state read first observes that the recovery timeout
// has elapsed, so an idle breaker simply stays open until someone asks.
type FailureBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenAttempts int
	onStateChange    func(name string, from, to BreakerState)

	mutex           sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	logger *logging.Logger
}

// NewFailureBreaker creates a failure breaker. Zero config fields fall back
// to the package defaults.
func NewFailureBreaker(config FailureBreakerConfig) *FailureBreaker {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if config.HalfOpenAttempts <= 0 {
		config.HalfOpenAttempts = DefaultHalfOpenAttempts
	}

	return &FailureBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		halfOpenAttempts: config.HalfOpenAttempts,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		logger:           logging.GetLogger().WithComponent("failure_breaker"),
	}
}

// Name returns the breaker name.
func (fb *FailureBreaker) Name() string {
	return fb.name
}

// State returns the current breaker state. Reading the state is what moves
// an open breaker to half-open once the recovery timeout has elapsed.
func (fb *FailureBreaker) State() BreakerState {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	return fb.currentState(time.Now())
}

// currentState applies the lazy open to half-open transition. Callers must
// hold the mutex.
func (fb *FailureBreaker) currentState(now time.Time) BreakerState {
	if fb.state == StateOpen && !fb.lastFailureTime.IsZero() && now.Sub(fb.lastFailureTime) > fb.recoveryTimeout {
		fb.transitionTo(StateHalfOpen)
		fb.successCount = 0
	}
	return fb.state
}

// transitionTo changes the state, notifies the callback, and logs the
// transition. Callers must hold the mutex.
func (fb *FailureBreaker) transitionTo(state BreakerState) {
	if fb.state == state {
		return
	}
	prev := fb.state
	fb.state = state

	if fb.onStateChange != nil {
		fb.onStateChange(fb.name, prev, state)
	}

	fb.logger.Info("Failure breaker state changed",
		"breaker", fb.name,
		"from", prev.String(),
		"to", state.String(),
		"failure_count", fb.failureCount,
		"success_count", fb.successCount,
	)
}

// RecordSuccess records a successful call. In the closed state it clears the
// consecutive failure count; in half-open it counts toward closing the
// breaker.
func (fb *FailureBreaker) RecordSuccess() {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()

	switch fb.currentState(time.Now()) {
	case StateHalfOpen:
		fb.successCount++
		if fb.successCount >= fb.halfOpenAttempts {
			fb.transitionTo(StateClosed)
			fb.failureCount = 0
			fb.successCount = 0
		}
	case StateClosed:
		fb.failureCount = 0
		fb.successCount = 0
	}
}

// RecordFailure records a failed call. A failure during half-open probation
// reopens the breaker immediately; in the closed state the breaker opens
// once the consecutive failure count reaches the threshold.
func (fb *FailureBreaker) RecordFailure() {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()

	now := time.Now()
	state := fb.currentState(now)

	fb.failureCount++
	fb.lastFailureTime = now

	switch state {
	case StateHalfOpen:
		fb.failureCount = fb.failureThreshold
		fb.transitionTo(StateOpen)
	case StateClosed:
		if fb.failureCount >= fb.failureThreshold {
			fb.transitionTo(StateOpen)
		}
	}
}

// Execute runs the operation through the breaker. When the breaker is open
// it fails fast with a *BreakerOpenError without touching the counters.
//
// A wait abandoned via ctx is returned as-is and recorded neither as success
// nor as failure: the caller gave up, the dependency was not proven
// unhealthy.
func (fb *FailureBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	if fb.State() == StateOpen {
		fb.logger.Debug("Failure breaker rejected call", "breaker", fb.name)
		return nil, &BreakerOpenError{Name: fb.name}
	}

	result, err := op.Run(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		fb.RecordFailure()
		return nil, err
	}

	fb.RecordSuccess()
	return result, nil
}

// Call runs a plain function through the breaker without a context.
func (fb *FailureBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return fb.Execute(context.Background(), Deferred(func(ctx context.Context) (interface{}, error) {
		return fn()
	}))
}

// Counts returns the current consecutive failure and success counts.
func (fb *FailureBreaker) Counts() (failures, successes int) {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	return fb.failureCount, fb.successCount
}

// Reset returns the breaker to the closed state and clears all counters.
func (fb *FailureBreaker) Reset() {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()

	fb.transitionTo(StateClosed)
	fb.failureCount = 0
	fb.successCount = 0
	fb.lastFailureTime = time.Time{}
}

// BreakerOpenError is returned when a call is rejected because the breaker
// is open.
type BreakerOpenError struct {
	Name string
}

// Error returns the error message
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("failure breaker '%s' is open", e.Name)
}

// IsBreakerOpen checks if an error is a breaker rejection
func IsBreakerOpen(err error) bool {
	var breakerErr *BreakerOpenError
	return errors.As(err, &breakerErr)
}
