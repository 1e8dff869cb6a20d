// Package resilience provides failure breaking, retry with exponential
// backoff, and a cooperative depth budget for executing unreliable,
// latency-variable operations such as remote model calls.
//
// This package implements the following patterns:
//
// # Failure Breaker
//
// The failure breaker tracks consecutive failures of a dependency and
// rejects calls while it is considered unhealthy. The open to half-open
// transition happens lazily on state reads once the recovery timeout has
// elapsed; there is no background timer.
//
//	fb := resilience.NewFailureBreaker(resilience.FailureBreakerConfig{
//		Name:             "content-model",
//		FailureThreshold: 8,
//		RecoveryTimeout:  30 * time.Second,
//		HalfOpenAttempts: 2,
//	})
//
//	result, err := fb.Execute(ctx, resilience.Deferred(func(ctx context.Context) (interface{}, error) {
//		return model.Generate(ctx, prompt)
//	}))
//
// # Operations
//
// Callers state up front what they are submitting: an immediate value, a
// deferred function, or a handle to work already in flight. Deferred
// functions re-execute on retry; started handles are awaited and always
// yield their single outcome.
//
//	op := resilience.Deferred(fetchSection)
//	op = resilience.Value(cachedSection)
//	op = resilience.Started(resilience.Go(renderSection))
//
// # Resilient Execution
//
// The executor composes the breaker with a retry loop. Attempt k sleeps
// backoff^(k-1) seconds before the next attempt and each retry multiplies
// the per-attempt timeout by the backoff factor. Exhaustion returns an
// error carrying the last underlying failure; callers that prefer a value
// ask for the deterministic fallback instead.
//
//	ex := resilience.NewResilientExecutor(resilience.DefaultExecutorConfig())
//	result, err := ex.Execute(ctx, "content-analysis", op, nil)
//	if err != nil {
//		result = ex.FallbackResult("content-analysis")
//	}
//
// # Depth Budget
//
// Nested execution paths claim levels from an explicit counter instead of
// probing the call stack. When the budget is exhausted the executor flags
// sync mode and callers switch to a flat strategy.
//
//	if ex.ShouldUseSync() {
//		return runFlat(ctx, task)
//	}
//
// All types in the package are safe for concurrent use.
package resilience
