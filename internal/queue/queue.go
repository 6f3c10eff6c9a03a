// Package queue implements the Task Queue: a durable, four-class priority
// queue over a collaborator-provided KV store, dispatching to a bounded
// worker pool with retry-with-backoff. Style and concurrency primitives
// (atomic running flag, channel-fed workers, wg.Wait on shutdown) follow the
// teacher's internal/hft/order_manager.go.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
	"github.com/solbotswarm/orchestrator/internal/randomization"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

const kvNamespace = "orchestrator:tasks"

// Processor executes one task and reports whether it succeeded. A returned
// error is classified via orcherr.IsRetryable to decide whether the task is
// retried or fails terminally.
type Processor func(ctx context.Context, task *domain.Task) error

// RetryPolicy configures the Task Queue's exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	JitterPct    float64
}

// DefaultRetryPolicy matches spec §4.3: factor 2, initial 1s, cap 10s,
// jitter +-10%, default 3 retries. MaxAttempts becomes a task's MaxRetries
// when it has none, so a task runs at most MaxAttempts+1 times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		JitterPct:    0.10,
	}
}

// Config configures the Task Queue's dispatch loop.
type Config struct {
	Concurrency int
	Retry       RetryPolicy
}

// Stats is the snapshot returned by QueueStats.
type Stats struct {
	Pending              int
	Active               int
	CompletedLastInterval int64
	FailedLastInterval    int64
	ThroughputPerMinute   float64
}

var ErrProcessorAlreadyRegistered = fmt.Errorf("processor already registered")

// Queue is the Task Queue.
type Queue struct {
	logger *observability.Logger
	config Config
	kv     collaborators.KVStore
	clock  collaborators.TimeSource
	rng    *randomization.Engine

	mu          sync.Mutex
	pending     map[domain.Priority][]*domain.Task
	active      map[string]*domain.Task
	nextSeq     uint64
	processors  map[domain.TaskType]Processor

	isRunning int32
	paused    int32
	sem       chan struct{}
	stopCh    chan struct{}
	wakeCh    chan struct{}
	wg        sync.WaitGroup

	completedWindow windowCounter
	failedWindow    windowCounter
}

// New constructs a Queue. kv may be nil for an in-memory-only queue (tests).
func New(logger *observability.Logger, config Config, kv collaborators.KVStore, clock collaborators.TimeSource) *Queue {
	if config.Concurrency <= 0 {
		config.Concurrency = 50
	}
	if clock == nil {
		clock = collaborators.SystemTime{}
	}
	return &Queue{
		logger:     logger,
		config:     config,
		kv:         kv,
		clock:      clock,
		rng:        randomization.New(),
		pending:    make(map[domain.Priority][]*domain.Task),
		active:     make(map[string]*domain.Task),
		processors: make(map[domain.TaskType]Processor),
		sem:        make(chan struct{}, config.Concurrency),
		stopCh:     make(chan struct{}),
		wakeCh:     make(chan struct{}, 1),
	}
}

// RegisterProcessor registers the handler for a task type. At most one
// processor may be registered per type.
func (q *Queue) RegisterProcessor(typ domain.TaskType, proc Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.processors[typ]; exists {
		return orcherr.StateConflict("queue", "RegisterProcessor", fmt.Errorf("%w: %s", ErrProcessorAlreadyRegistered, typ))
	}
	q.processors[typ] = proc
	return nil
}

// Enqueue assigns an ID if absent, persists the task pending, and returns
// its ID.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) (string, error) {
	if task.ID == "" {
		task.ID = domain.NewTask(task.Type, task.Priority, task.Payload).ID
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = q.config.Retry.MaxAttempts
	}
	task.Status = domain.TaskPending

	q.mu.Lock()
	q.nextSeq++
	task.SetSeq(q.nextSeq)
	q.pending[task.Priority] = append(q.pending[task.Priority], task)
	q.mu.Unlock()

	if err := q.persist(ctx, task); err != nil {
		q.logger.Warn(ctx, "failed to persist enqueued task", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
	}

	q.wake()
	return task.ID, nil
}

// EnqueueBatch enqueues all tasks, atomic from the caller's perspective:
// all ids are assigned and all tasks become visible to dispatch together,
// under one lock. Persistence happens afterwards, task by task; a failed
// write is logged and does not remove the task from the queue, and the
// returned error is always nil. Ids are returned in input order.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) ([]string, error) {
	ids := make([]string, len(tasks))

	q.mu.Lock()
	for i, task := range tasks {
		if task.ID == "" {
			task.ID = domain.NewTask(task.Type, task.Priority, task.Payload).ID
		}
		if task.MaxRetries == 0 {
			task.MaxRetries = q.config.Retry.MaxAttempts
		}
		task.Status = domain.TaskPending
		q.nextSeq++
		task.SetSeq(q.nextSeq)
		ids[i] = task.ID
	}
	for _, task := range tasks {
		q.pending[task.Priority] = append(q.pending[task.Priority], task)
	}
	q.mu.Unlock()

	for _, task := range tasks {
		if err := q.persist(ctx, task); err != nil {
			q.logger.Warn(ctx, "failed to persist batched task", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		}
	}

	q.wake()
	return ids, nil
}

func (q *Queue) persist(ctx context.Context, task *domain.Task) error {
	if q.kv == nil {
		return nil
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.kv.Set(ctx, kvNamespace, task.ID, data)
}

func (q *Queue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// StartProcessing launches the dispatch loop and worker pool.
func (q *Queue) StartProcessing(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&q.isRunning, 0, 1) {
		return orcherr.StateConflict("queue", "StartProcessing", fmt.Errorf("already running"))
	}
	q.logger.Info(ctx, "task queue started", map[string]interface{}{"concurrency": q.config.Concurrency})

	q.wg.Add(1)
	go q.dispatchLoop(ctx)
	return nil
}

// Pause stops new dispatch without draining in-flight tasks.
func (q *Queue) Pause() {
	atomic.StoreInt32(&q.paused, 1)
}

// Resume re-enables dispatch.
func (q *Queue) Resume() {
	atomic.StoreInt32(&q.paused, 0)
	q.wake()
}

// Close stops the dispatch loop and waits for in-flight tasks to finish.
func (q *Queue) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&q.isRunning, 1, 0) {
		return nil
	}
	close(q.stopCh)
	q.wg.Wait()
	q.logger.Info(ctx, "task queue closed", nil)
	return nil
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-q.wakeCh:
			q.dispatchReady(ctx)
		case <-ticker.C:
			q.dispatchReady(ctx)
		}
	}
}

func (q *Queue) dispatchReady(ctx context.Context) {
	if atomic.LoadInt32(&q.paused) == 1 {
		return
	}
	for {
		select {
		case q.sem <- struct{}{}:
		default:
			return // worker pool saturated
		}

		task := q.popHighestPriority()
		if task == nil {
			<-q.sem
			return
		}

		q.wg.Add(1)
		go q.runTask(ctx, task)
	}
}

// popHighestPriority pops the oldest task (by enqueue seq) from the
// highest non-empty priority class: critical, high, normal, low.
func (q *Queue) popHighestPriority() *domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range []domain.Priority{domain.PriorityCritical, domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
		bucket := q.pending[p]
		if len(bucket) == 0 {
			continue
		}
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Seq() < bucket[j].Seq() })
		task := bucket[0]
		q.pending[p] = bucket[1:]
		q.active[task.ID] = task
		return task
	}
	return nil
}

func (q *Queue) runTask(ctx context.Context, task *domain.Task) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	q.mu.Lock()
	now := q.clock.Now()
	task.Status = domain.TaskProcessing
	task.StartedAt = &now
	q.mu.Unlock()
	_ = q.persist(ctx, task)

	proc, ok := q.processors[task.Type]
	if !ok {
		q.finishFailed(ctx, task, fmt.Errorf("no processor registered for type %s", task.Type))
		return
	}

	taskCtx := ctx
	var cancel context.CancelFunc
	if task.TimeoutMS > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	err := proc(taskCtx, task)
	if err == nil {
		q.finishCompleted(ctx, task)
		return
	}

	if taskCtx.Err() == context.DeadlineExceeded {
		err = orcherr.TransientExternal("queue", "runTask", fmt.Errorf("task %s timed out: %w", task.ID, err))
	}

	if orcherr.IsRetryable(err) && task.RetryCount < task.MaxRetries {
		q.retry(ctx, task, err)
		return
	}

	q.finishFailed(ctx, task, err)
}

func (q *Queue) finishCompleted(ctx context.Context, task *domain.Task) {
	q.mu.Lock()
	now := q.clock.Now()
	task.Status = domain.TaskCompleted
	task.CompletedAt = &now
	delete(q.active, task.ID)
	q.mu.Unlock()

	q.completedWindow.record(now)
	_ = q.persist(ctx, task)
}

func (q *Queue) finishFailed(ctx context.Context, task *domain.Task, cause error) {
	q.mu.Lock()
	now := q.clock.Now()
	task.Status = domain.TaskFailed
	task.CompletedAt = &now
	delete(q.active, task.ID)
	q.mu.Unlock()

	q.failedWindow.record(now)
	_ = q.persist(ctx, task)

	q.logger.Error(ctx, "task failed terminally", cause, map[string]interface{}{
		"task_id": task.ID, "type": string(task.Type), "retry_count": task.RetryCount,
	})
}

// retry re-enters the task at its original priority, behind freshly
// enqueued tasks of the same priority, after an exponential backoff delay.
func (q *Queue) retry(ctx context.Context, task *domain.Task, cause error) {
	task.RetryCount++
	task.Status = domain.TaskRetry

	q.mu.Lock()
	delete(q.active, task.ID)
	q.mu.Unlock()
	_ = q.persist(ctx, task)

	delay := q.backoffDelay(task.RetryCount)

	q.logger.Warn(ctx, "task failed, scheduling retry", map[string]interface{}{
		"task_id": task.ID, "attempt": task.RetryCount, "delay_ms": delay.Milliseconds(), "error": cause.Error(),
	})

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-q.stopCh:
			return
		}
		q.mu.Lock()
		q.nextSeq++
		task.SetSeq(q.nextSeq)
		task.Status = domain.TaskPending
		q.pending[task.Priority] = append(q.pending[task.Priority], task)
		q.mu.Unlock()
		q.wake()
	}()
}

func (q *Queue) backoffDelay(attempt int) time.Duration {
	policy := q.config.Retry
	delay := policy.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
			break
		}
	}
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return q.rng.JitterDuration(delay, policy.JitterPct)
}

// QueueStats returns a snapshot of queue health.
func (q *Queue) QueueStats() Stats {
	q.mu.Lock()
	pending := 0
	for _, bucket := range q.pending {
		pending += len(bucket)
	}
	active := len(q.active)
	q.mu.Unlock()

	now := q.clock.Now()
	completed := q.completedWindow.countSince(now, time.Minute)
	failed := q.failedWindow.countSince(now, time.Minute)

	return Stats{
		Pending:               pending,
		Active:                active,
		CompletedLastInterval: completed,
		FailedLastInterval:    failed,
		ThroughputPerMinute:   float64(completed),
	}
}

// windowCounter tracks timestamped events for a trailing-window count,
// e.g. "completed in the last interval".
type windowCounter struct {
	mu     sync.Mutex
	events []time.Time
}

func (w *windowCounter) record(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, t)
	if len(w.events) > 10000 {
		w.events = w.events[len(w.events)-10000:]
	}
}

func (w *windowCounter) countSince(now time.Time, window time.Duration) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-window)
	var n int64
	for _, t := range w.events {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
