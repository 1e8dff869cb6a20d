package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/final5team-odiga/EssayAgents/pkg/errors"
	"github.com/final5team-odiga/EssayAgents/pkg/logging"
)

// queuedItem pairs a work item with a monotonic sequence number so that equal
// priorities dequeue in insertion order.
type queuedItem struct {
	item *WorkItem
	seq  uint64
}

// itemHeap is a min-heap ordered by (priority, seq) ascending
type itemHeap []*queuedItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority < h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*queuedItem))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	qi := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return qi
}

// WorkQueue is a bounded in-memory priority queue with its own worker pool.
// Items are executed at most once each; outcomes land in a result table keyed
// by item id. Per-item failures never propagate to the enqueueing caller.
type WorkQueue struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	items    itemHeap
	seq      uint64
	results  map[string]Result
	inflight int
	running  bool
	workers  int
	stopCh   chan struct{}
	wg       *sync.WaitGroup
	stats    Stats

	// wakeCh nudges one idle worker on enqueue so pickup does not wait for
	// the next poll tick.
	wakeCh chan struct{}
}

// NewWorkQueue creates a new work queue. Invalid config fields fall back to
// their defaults.
func NewWorkQueue(config Config) *WorkQueue {
	defaults := DefaultConfig()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = defaults.MaxWorkers
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = defaults.MaxQueueSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	q := &WorkQueue{
		config:  config,
		logger:  logging.GetLogger().WithComponent("work_queue"),
		results: make(map[string]Result),
		wakeCh:  make(chan struct{}, 1),
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Enqueue attempts to place an item in the queue, starting the worker pool if
// it is not running. Returns false without blocking when the queue is at
// capacity or the item is invalid.
func (q *WorkQueue) Enqueue(item *WorkItem) bool {
	if item == nil {
		q.logger.Warn("Rejected nil work item", "queue", q.config.Name)
		return false
	}
	if err := item.Validate(); err != nil {
		q.logger.Warn("Rejected invalid work item",
			"queue", q.config.Name,
			"item_id", item.ID,
			"error", err.Error(),
		)
		q.config.Metrics.RecordEnqueue(q.config.Name, false)
		return false
	}

	q.Start()

	q.mu.Lock()
	if len(q.items) >= q.config.MaxQueueSize {
		q.stats.Rejected++
		q.mu.Unlock()
		q.logger.Warn("Queue is full, rejecting work item",
			"queue", q.config.Name,
			"item_id", item.ID,
			"capacity", q.config.MaxQueueSize,
		)
		q.config.Metrics.RecordEnqueue(q.config.Name, false)
		return false
	}

	q.seq++
	heap.Push(&q.items, &queuedItem{item: item, seq: q.seq})
	q.stats.Enqueued++
	depth := len(q.items)
	q.mu.Unlock()

	// Nudge one idle worker; drop the signal if nobody is waiting.
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}

	q.config.Metrics.RecordEnqueue(q.config.Name, true)
	q.config.Metrics.UpdateQueueDepth(q.config.Name, depth)
	q.logger.Debug("Work item enqueued",
		"queue", q.config.Name,
		"item_id", item.ID,
		"priority", item.Priority,
		"depth", depth,
	)

	return true
}

// Start starts the worker pool. Idempotent; a stopped queue can be started
// again (Enqueue does this automatically).
func (q *WorkQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	q.stopCh = make(chan struct{})
	q.wg = &sync.WaitGroup{}
	q.workers = q.config.MaxWorkers
	if q.stats.StartedAt.IsZero() {
		q.stats.StartedAt = time.Now()
	}

	grouped := q.config.BatchSize > 1
	var gate chan struct{}
	if grouped {
		gate = make(chan struct{}, q.config.MaxWorkers)
	}

	for i := 0; i < q.config.MaxWorkers; i++ {
		q.wg.Add(1)
		if grouped {
			go q.batchLoop(i, q.stopCh, q.wg, gate)
		} else {
			go q.workerLoop(i, q.stopCh, q.wg)
		}
	}

	q.config.Metrics.UpdateActiveWorkers(q.config.Name, q.config.MaxWorkers)
	q.logger.Info("Work queue started",
		"queue", q.config.Name,
		"workers", q.config.MaxWorkers,
		"batch_size", q.config.BatchSize,
	)
}

// Stop halts the worker pool. If graceful, all currently-queued items are
// processed first; otherwise in-flight items finish and still-queued items
// stay in the queue until a later start. Idempotent.
func (q *WorkQueue) Stop(ctx context.Context, graceful bool) error {
	var drainErr error
	if graceful {
		drainErr = q.waitDrain(ctx)
	}

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return drainErr
	}
	q.running = false
	stopCh := q.stopCh
	wg := q.wg
	q.mu.Unlock()

	close(stopCh)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.NewTimeoutError("queue shutdown")
	case <-time.After(q.config.ShutdownTimeout):
		return errors.NewTimeoutError("queue shutdown")
	}

	q.mu.Lock()
	q.workers = 0
	remaining := len(q.items)
	q.mu.Unlock()

	q.config.Metrics.UpdateActiveWorkers(q.config.Name, 0)
	q.logger.Info("Work queue stopped",
		"queue", q.config.Name,
		"graceful", graceful,
		"remaining", remaining,
	)

	return drainErr
}

// GetResults waits for the queue to fully drain, then returns stored results.
// With no ids it returns a copy of the whole table; with ids only the
// requested entries (absent ids are simply missing from the map).
func (q *WorkQueue) GetResults(ctx context.Context, ids ...string) (map[string]Result, error) {
	if err := q.waitDrain(ctx); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]Result)
	if len(ids) == 0 {
		for id, res := range q.results {
			out[id] = res
		}
		return out, nil
	}

	for _, id := range ids {
		if res, ok := q.results[id]; ok {
			out[id] = res
		}
	}
	return out, nil
}

// waitDrain blocks until the queue holds no queued or in-flight items, or the
// context expires.
func (q *WorkQueue) waitDrain(ctx context.Context) error {
	watchDone := make(chan struct{})
	defer close(watchDone)

	// Wake the condition wait when the context expires. Broadcasting under
	// the queue mutex keeps the wakeup from slipping past a waiter that is
	// between its check and its Wait.
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-watchDone:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 || q.inflight > 0 {
		if ctx.Err() != nil {
			return errors.NewTimeoutError("queue drain").WithCause(ctx.Err())
		}
		q.cond.Wait()
	}

	return nil
}

// pop removes the highest-priority item, marking it in-flight. Returns nil
// when the queue is empty.
func (q *WorkQueue) pop() *WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	qi := heap.Pop(&q.items).(*queuedItem)
	q.inflight++
	return qi.item
}

// popBatch removes up to n highest-priority items, marking them in-flight
func (q *WorkQueue) popBatch(n int) []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := n
	if count > len(q.items) {
		count = len(q.items)
	}
	if count == 0 {
		return nil
	}

	batch := make([]*WorkItem, 0, count)
	for i := 0; i < count; i++ {
		qi := heap.Pop(&q.items).(*queuedItem)
		batch = append(batch, qi.item)
	}
	q.inflight += count
	return batch
}

// storeResult records a finished item and releases its in-flight slot
func (q *WorkQueue) storeResult(item *WorkItem, res Result) {
	q.mu.Lock()
	q.results[item.ID] = res
	q.inflight--
	q.stats.Processed++
	q.stats.LastItemAt = res.FinishedAt
	switch res.Status {
	case ResultSuccess:
		q.stats.Succeeded++
	case ResultTimeout:
		q.stats.TimedOut++
	default:
		q.stats.Failed++
	}
	q.cond.Broadcast()
	depth := len(q.items)
	q.mu.Unlock()

	q.config.Metrics.RecordTaskExecution(q.config.Name, string(res.Status), res.Duration)
	q.config.Metrics.UpdateQueueDepth(q.config.Name, depth)
}

// Result returns the stored outcome for one item id without waiting
func (q *WorkQueue) Result(id string) (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	res, ok := q.results[id]
	return res, ok
}

// ClearResults removes all stored results
func (q *WorkQueue) ClearResults() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = make(map[string]Result)
}

// ClearResult removes a single stored result
func (q *WorkQueue) ClearResult(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.results, id)
}

// Depth returns the number of items waiting in the queue
func (q *WorkQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WorkerCount returns the number of running worker loops
func (q *WorkQueue) WorkerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.workers
}

// Running returns whether the worker pool is running
func (q *WorkQueue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Stats returns a snapshot of cumulative queue statistics
func (q *WorkQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Name returns the queue name
func (q *WorkQueue) Name() string {
	return q.config.Name
}

// Capacity returns the maximum number of items the queue holds
func (q *WorkQueue) Capacity() int {
	return q.config.MaxQueueSize
}
