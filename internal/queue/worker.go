package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/final5team-odiga/EssayAgents/pkg/errors"
	"github.com/final5team-odiga/EssayAgents/pkg/resilience"
)

// workerLoop is the single-item worker loop. It pulls the highest-priority
// item and executes it; when idle it waits for a wake signal or the next poll
// tick so it observes a stop request within PollInterval.
func (q *WorkQueue) workerLoop(workerNum int, stopCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	workerID := fmt.Sprintf("%s-worker-%d", q.config.Name, workerNum)
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		q.safeIteration(workerID, stopCh, ticker)
	}
}

// safeIteration runs one pull-and-execute cycle. A panic at this level is a
// pool bug, not an item failure: it is logged and the loop resumes after a
// short pause instead of terminating the worker.
func (q *WorkQueue) safeIteration(workerID string, stopCh <-chan struct{}, ticker *time.Ticker) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Worker loop panic, resuming",
				"worker", workerID,
				"panic", fmt.Sprintf("%v", r),
			)
			q.config.Metrics.RecordPanic("worker")
			time.Sleep(1 * time.Second)
		}
	}()

	item := q.pop()
	if item == nil {
		select {
		case <-stopCh:
		case <-q.wakeCh:
		case <-ticker.C:
		}
		return
	}

	q.runItem(workerID, item)
}

// batchLoop is the grouped worker loop. It pulls a fixed-size batch and runs
// all items concurrently; each item first acquires a slot from the shared
// gate, so no more than MaxWorkers grouped items execute at once.
func (q *WorkQueue) batchLoop(workerNum int, stopCh <-chan struct{}, wg *sync.WaitGroup, gate chan struct{}) {
	defer wg.Done()

	workerID := fmt.Sprintf("%s-batch-%d", q.config.Name, workerNum)
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		q.safeBatchIteration(workerID, stopCh, ticker, gate)
	}
}

// safeBatchIteration runs one batch cycle with the same loop-level panic
// containment as safeIteration. Item failures are isolated: one item's error
// never cancels its siblings.
func (q *WorkQueue) safeBatchIteration(workerID string, stopCh <-chan struct{}, ticker *time.Ticker, gate chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Batch loop panic, resuming",
				"worker", workerID,
				"panic", fmt.Sprintf("%v", r),
			)
			q.config.Metrics.RecordPanic("worker")
			time.Sleep(1 * time.Second)
		}
	}()

	batch := q.popBatch(q.config.BatchSize)
	if len(batch) == 0 {
		select {
		case <-stopCh:
		case <-q.wakeCh:
		case <-ticker.C:
		}
		return
	}

	var itemWg sync.WaitGroup
	for _, item := range batch {
		itemWg.Add(1)
		go func(it *WorkItem) {
			defer itemWg.Done()

			gate <- struct{}{}
			defer func() { <-gate }()

			q.runItem(workerID, it)
		}(item)
	}
	itemWg.Wait()

	q.config.Metrics.RecordBatch(q.config.Name)
	q.logger.Debug("Batch processed",
		"worker", workerID,
		"queue", q.config.Name,
		"batch_size", len(batch),
	)
}

// runItem executes a single work item under its own timeout and stores the
// tagged outcome. The operation runs in its own goroutine (via Operation.Run),
// so a timed-out wait abandons the work: the context is cancelled but the
// goroutine is not forcibly interrupted, and a late result is discarded.
func (q *WorkQueue) runItem(workerID string, item *WorkItem) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), item.Timeout)
	defer cancel()

	value, err := item.Op.Run(ctx)
	if err == nil {
		// A resolved result that is itself a pending computation is awaited
		// once more, exactly one extra level.
		value, err = q.unwrapOnce(ctx, value)
	}

	res := Result{
		ItemID:     item.ID,
		Duration:   time.Since(start),
		FinishedAt: time.Now(),
	}

	switch {
	case err == nil:
		res.Status = ResultSuccess
		res.Value = value
	case errors.IsTimeout(err):
		res.Status = ResultTimeout
		res.Err = errors.NewTimeoutError(fmt.Sprintf("work item %s", item.ID)).Error()
		q.logger.Warn("Work item timed out",
			"worker", workerID,
			"item_id", item.ID,
			"timeout", item.Timeout.String(),
		)
	default:
		res.Status = ResultError
		res.Err = err.Error()
		q.logger.Warn("Work item failed",
			"worker", workerID,
			"item_id", item.ID,
			"error", err.Error(),
		)
	}

	q.storeResult(item, res)

	if q.config.Archive != nil {
		go q.config.Archive.Store(item.SessionID, item.ID, res)
	}

	if res.Status == ResultSuccess {
		q.logger.Debug("Work item completed",
			"worker", workerID,
			"item_id", item.ID,
			"duration", res.Duration.String(),
		)
	}
}

// unwrapOnce awaits a result that is itself a still-pending computation.
// Exactly one extra level; whatever that level yields is final.
func (q *WorkQueue) unwrapOnce(ctx context.Context, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case *resilience.Handle:
		return v.Await(ctx)
	case resilience.Operation:
		return v.Run(ctx)
	default:
		return value, nil
	}
}
