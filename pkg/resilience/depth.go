package resilience

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Default depth budget settings.
const (
	DefaultDepthLimit  = 1000
	DefaultDepthBuffer = 50
)

// DepthBudget bounds cooperative call depth with an explicit counter.
// Nested execution paths claim a level with Enter and release it with Leave;
// once the counter is within the safety buffer of the limit, Enter fails and
// callers are expected to switch to a flat synchronous path.
type DepthBudget struct {
	limit  int
	buffer int
	depth  atomic.Int64
}

// NewDepthBudget creates a depth budget. Non-positive arguments fall back to
// the package defaults.
func NewDepthBudget(limit, buffer int) *DepthBudget {
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	if buffer <= 0 {
		buffer = DefaultDepthBuffer
	}
	if buffer >= limit {
		buffer = limit - 1
	}
	return &DepthBudget{limit: limit, buffer: buffer}
}

// Enter claims one level of depth. It fails with a *DepthLimitError, without
// claiming anything, when the budget is exhausted.
func (d *DepthBudget) Enter() error {
	for {
		cur := d.depth.Load()
		if int(cur) >= d.limit-d.buffer {
			return &DepthLimitError{Depth: int(cur), Limit: d.limit, Buffer: d.buffer}
		}
		if d.depth.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// Leave releases one level of depth.
func (d *DepthBudget) Leave() {
	if d.depth.Add(-1) < 0 {
		d.depth.Store(0)
	}
}

// Depth returns the current claimed depth.
func (d *DepthBudget) Depth() int {
	return int(d.depth.Load())
}

// Limit returns the configured depth limit.
func (d *DepthBudget) Limit() int {
	return d.limit
}

// Buffer returns the configured safety buffer.
func (d *DepthBudget) Buffer() int {
	return d.buffer
}

// Remaining returns how many more levels Enter will grant.
func (d *DepthBudget) Remaining() int {
	rem := d.limit - d.buffer - int(d.depth.Load())
	if rem < 0 {
		return 0
	}
	return rem
}

// Exceeded reports whether the budget is exhausted.
func (d *DepthBudget) Exceeded() bool {
	return d.Remaining() == 0
}

// Reset clears the claimed depth.
func (d *DepthBudget) Reset() {
	d.depth.Store(0)
}

// DepthLimitError is returned when the depth budget is exhausted.
type DepthLimitError struct {
	Depth  int
	Limit  int
	Buffer int
}

// Error returns the error message
func (e *DepthLimitError) Error() string {
	return fmt.Sprintf("call depth %d is within %d of the limit %d", e.Depth, e.Buffer, e.Limit)
}

// IsDepthLimit checks if an error is a depth budget rejection
func IsDepthLimit(err error) bool {
	var depthErr *DepthLimitError
	return errors.As(err, &depthErr)
}
