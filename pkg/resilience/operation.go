package resilience

import (
	"context"
	"fmt"
)

// OperationKind identifies what an Operation wraps.
type OperationKind int

const (
	// KindValue is an immediate result that needs no execution
	KindValue OperationKind = iota
	// KindDeferred is a function that has not started yet
	KindDeferred
	// KindStarted is a handle to work that is already in flight
	KindStarted
)

// String returns a string representation of the operation kind
func (k OperationKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindDeferred:
		return "deferred"
	case KindStarted:
		return "started"
	default:
		return "unknown"
	}
}

// Operation states up front what a caller is submitting: an immediate value,
// a deferred function, or a handle to work already in flight. Call sites
// construct the variant they mean instead of relying on runtime inspection
// at the execution boundary.
type Operation struct {
	kind     OperationKind
	valid    bool
	value    interface{}
	deferred func(ctx context.Context) (interface{}, error)
	handle   *Handle
}

// Value wraps an immediate result. Running it returns v without executing
// anything.
func Value(v interface{}) Operation {
	return Operation{kind: KindValue, valid: true, value: v}
}

// Deferred wraps a function that runs when the operation is executed. Each
// run invokes fn again, so retries re-execute the work.
func Deferred(fn func(ctx context.Context) (interface{}, error)) Operation {
	return Operation{kind: KindDeferred, valid: true, deferred: fn}
}

// Started wraps a handle to a computation that is already running. Running
// the operation awaits the handle; retries observe the same single outcome.
func Started(h *Handle) Operation {
	return Operation{kind: KindStarted, valid: true, handle: h}
}

// Kind returns which variant the operation holds.
func (op Operation) Kind() OperationKind {
	return op.kind
}

// IsZero reports whether the operation was never constructed through one of
// the variant builders.
func (op Operation) IsZero() bool {
	return !op.valid
}

// Run executes the operation under ctx and returns its outcome.
//
// A deferred function runs on its own goroutine with a buffered result
// channel. When ctx expires the waiter returns ctx.Err() and the function is
// abandoned: it keeps running in the background, delivers its result into the
// buffer, and is collected with the channel. Run never interrupts work that
// is already executing.
func (op Operation) Run(ctx context.Context) (interface{}, error) {
	switch op.kind {
	case KindStarted:
		if op.handle == nil {
			return nil, fmt.Errorf("started operation has no handle")
		}
		return op.handle.Await(ctx)
	case KindDeferred:
		if op.deferred == nil {
			return nil, fmt.Errorf("deferred operation has no function")
		}
		ch := make(chan outcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					ch <- outcome{err: fmt.Errorf("operation panicked: %v", r)}
				}
			}()
			result, err := op.deferred(ctx)
			ch <- outcome{result: result, err: err}
		}()
		select {
		case out := <-ch:
			return out.result, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		return op.value, nil
	}
}

type outcome struct {
	result interface{}
	err    error
}

// Handle is a single computation that callers can await more than once.
// The first Await blocks until the work finishes; every Await returns the
// same result.
type Handle struct {
	done   chan struct{}
	result interface{}
	err    error
}

// Go starts fn on a new goroutine and returns a handle to it. A panic inside
// fn is captured as the handle's error.
func Go(fn func() (interface{}, error)) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("operation panicked: %v", r)
			}
		}()
		h.result, h.err = fn()
	}()
	return h
}

// Complete returns a handle that already finished with the given outcome.
func Complete(result interface{}, err error) *Handle {
	h := &Handle{done: make(chan struct{}), result: result, err: err}
	close(h.done)
	return h
}

// Await blocks until the computation finishes or ctx expires. Abandoning the
// wait does not stop the computation; a later Await can still collect it.
func (h *Handle) Await(ctx context.Context) (interface{}, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the computation has finished without blocking.
func (h *Handle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
