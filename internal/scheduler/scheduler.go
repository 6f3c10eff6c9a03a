// Package scheduler fires one-shot and cron-recurring tasks into the Task
// Queue, grounded on the teacher's *cron.Cron + EntryID registry pattern
// (campaign-orchestrator job scheduling) adapted to the orchestrator's own
// ScheduledTask records.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cron "github.com/robfig/cron/v3"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
	"github.com/solbotswarm/orchestrator/internal/queue"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

// Enqueuer is the slice of the Task Queue the Scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *domain.Task) (string, error)
}

var _ Enqueuer = (*queue.Queue)(nil)

// Config bounds how many recurring jobs may be armed simultaneously.
type Config struct {
	Timezone               string
	MaxConcurrentScheduled int
}

type entry struct {
	record  *domain.ScheduledTask
	cronID  cron.EntryID // valid only while armed (enabled && recurring)
	oneShot *time.Timer
}

// Scheduler owns ScheduledTask records exclusively; on fire it enqueues a
// copy of the underlying task into the Task Queue (spec §3 Ownership).
type Scheduler struct {
	logger   *observability.Logger
	config   Config
	queue    Enqueuer
	clock    collaborators.TimeSource
	location *time.Location

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]*entry
	armed   int // currently-armed recurring jobs, bounded by MaxConcurrentScheduled

	wg     sync.WaitGroup
	closed bool
}

// New constructs a Scheduler. clock defaults to collaborators.SystemTime{}.
func New(logger *observability.Logger, config Config, q Enqueuer, clock collaborators.TimeSource) (*Scheduler, error) {
	if config.MaxConcurrentScheduled <= 0 {
		config.MaxConcurrentScheduled = 500
	}
	if clock == nil {
		clock = collaborators.SystemTime{}
	}
	loc := time.UTC
	if config.Timezone != "" {
		l, err := time.LoadLocation(config.Timezone)
		if err != nil {
			return nil, orcherr.Validation("scheduler", "new", fmt.Errorf("invalid timezone %q: %w", config.Timezone, err))
		}
		loc = l
	}
	s := &Scheduler{
		logger:   logger,
		config:   config,
		queue:    q,
		clock:    clock,
		location: loc,
		cron:     cron.New(cron.WithLocation(loc)),
		entries:  make(map[string]*entry),
	}
	s.cron.Start()
	return s, nil
}

// ScheduleOnce arms a one-shot fire at executeAt. If executeAt is already
// in the past, it enqueues immediately (spec §4.4, testable property 5).
func (s *Scheduler) ScheduleOnce(ctx context.Context, task *domain.Task, executeAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", orcherr.StateConflict("scheduler", "schedule_once", fmt.Errorf("scheduler closed"))
	}

	id := uuid.New().String()
	rec := &domain.ScheduledTask{
		ID:           id,
		Task:         task,
		IsRecurring:  false,
		ExecuteAt:    executeAt,
		NextFireAt:   executeAt,
		Enabled:      true,
	}
	e := &entry{record: rec}
	s.entries[id] = e

	now := s.clock.Now()
	delay := executeAt.Sub(now)
	if delay <= 0 {
		s.wg.Add(1)
		go s.fireOnce(context.Background(), id)
	} else {
		e.oneShot = time.AfterFunc(delay, func() { s.fireOnceScheduled(id) })
	}
	return id, nil
}

func (s *Scheduler) fireOnceScheduled(id string) {
	s.wg.Add(1)
	s.fireOnce(context.Background(), id)
}

func (s *Scheduler) fireOnce(ctx context.Context, id string) {
	defer s.wg.Done()
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || !e.record.Enabled {
		s.mu.Unlock()
		return
	}
	rec := e.record
	delete(s.entries, id)
	s.mu.Unlock()

	s.enqueueCopy(ctx, rec)
}

// ScheduleRecurring arms a cron-driven recurring job. Fails with
// CapacityExceeded once MaxConcurrentScheduled armed jobs already exist
// (spec §4.4).
func (s *Scheduler) ScheduleRecurring(ctx context.Context, task *domain.Task, cronExpr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", orcherr.StateConflict("scheduler", "schedule_recurring", fmt.Errorf("scheduler closed"))
	}
	if s.armed >= s.config.MaxConcurrentScheduled {
		return "", orcherr.CapacityExceeded("scheduler", "schedule_recurring", orcherr.ErrMaxConcurrentScheduled)
	}
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return "", orcherr.Validation("scheduler", "schedule_recurring", fmt.Errorf("%w: %v", orcherr.ErrInvalidCronExpr, err))
	}

	id := uuid.New().String()
	rec := &domain.ScheduledTask{
		ID:          id,
		Task:        task,
		IsRecurring: true,
		CronExpr:    cronExpr,
		NextFireAt:  sched.Next(s.clock.Now().In(s.location)),
		Enabled:     true,
	}
	e := &entry{record: rec}
	s.entries[id] = e

	cronID, err := s.cron.AddFunc(cronExpr, func() { s.fireRecurring(id) })
	if err != nil {
		delete(s.entries, id)
		return "", orcherr.Validation("scheduler", "schedule_recurring", fmt.Errorf("%w: %v", orcherr.ErrInvalidCronExpr, err))
	}
	e.cronID = cronID
	s.armed++
	return id, nil
}

func (s *Scheduler) fireRecurring(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || !e.record.Enabled {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	e.record.LastExecutedAt = &now
	for _, sched := range s.cron.Entries() {
		if sched.ID == e.cronID {
			e.record.NextFireAt = sched.Next
			break
		}
	}
	rec := e.record
	s.mu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()
	s.enqueueCopy(context.Background(), rec)
}

// enqueueCopy enqueues a fresh copy of the scheduled task's underlying
// task so the ScheduledTask record itself is never mutated by the queue.
func (s *Scheduler) enqueueCopy(ctx context.Context, rec *domain.ScheduledTask) {
	cp := *rec.Task
	cp.ID = uuid.New().String()
	cp.Status = domain.TaskPending
	cp.RetryCount = 0
	cp.CreatedAt = s.clock.Now()
	if _, err := s.queue.Enqueue(ctx, &cp); err != nil {
		s.logger.Error(ctx, "scheduled task enqueue failed", err, map[string]interface{}{"scheduled_id": rec.ID})
	}
}

// Cancel permanently removes a scheduled task.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return orcherr.NotFound("scheduler", "cancel", orcherr.ErrScheduleNotFound)
	}
	s.disarmLocked(e)
	delete(s.entries, id)
	return nil
}

// Pause disables a scheduled task without forgetting it. Recurring jobs
// never fire missed intervals while paused; one-shot jobs' pending timer
// is stopped (spec §4.4, §3 invariant).
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return orcherr.NotFound("scheduler", "pause", orcherr.ErrScheduleNotFound)
	}
	if !e.record.Enabled {
		return nil
	}
	e.record.Enabled = false
	s.disarmLocked(e)
	return nil
}

// Resume re-arms a paused scheduled task. Recurring jobs resume honoring
// the cron expression with the next future instant only, with no
// catch-up firing for intervals missed while paused.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return orcherr.NotFound("scheduler", "resume", orcherr.ErrScheduleNotFound)
	}
	if e.record.Enabled {
		return nil
	}
	e.record.Enabled = true

	if e.record.IsRecurring {
		sched, err := cron.ParseStandard(e.record.CronExpr)
		if err != nil {
			return orcherr.Validation("scheduler", "resume", fmt.Errorf("%w: %v", orcherr.ErrInvalidCronExpr, err))
		}
		if s.armed >= s.config.MaxConcurrentScheduled {
			e.record.Enabled = false
			return orcherr.CapacityExceeded("scheduler", "resume", orcherr.ErrMaxConcurrentScheduled)
		}
		id := e.record.ID
		cronID, err := s.cron.AddFunc(e.record.CronExpr, func() { s.fireRecurring(id) })
		if err != nil {
			e.record.Enabled = false
			return orcherr.Validation("scheduler", "resume", err)
		}
		e.cronID = cronID
		e.record.NextFireAt = sched.Next(s.clock.Now().In(s.location))
		s.armed++
	} else if e.record.ExecuteAt.After(s.clock.Now()) {
		delay := e.record.ExecuteAt.Sub(s.clock.Now())
		recID := e.record.ID
		e.oneShot = time.AfterFunc(delay, func() { s.fireOnceScheduled(recID) })
	}
	return nil
}

// UpdateCron validates and swaps a recurring job's cron expression,
// disarming and rearming it (only if currently enabled).
func (s *Scheduler) UpdateCron(id string, newCron string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return orcherr.NotFound("scheduler", "update_cron", orcherr.ErrScheduleNotFound)
	}
	if !e.record.IsRecurring {
		return orcherr.StateConflict("scheduler", "update_cron", fmt.Errorf("scheduled task %s is not recurring", id))
	}
	sched, err := cron.ParseStandard(newCron)
	if err != nil {
		return orcherr.Validation("scheduler", "update_cron", fmt.Errorf("%w: %v", orcherr.ErrInvalidCronExpr, err))
	}
	wasEnabled := e.record.Enabled
	s.disarmLocked(e)
	e.record.CronExpr = newCron
	if wasEnabled {
		cronID, err := s.cron.AddFunc(newCron, func() { s.fireRecurring(id) })
		if err != nil {
			return orcherr.Validation("scheduler", "update_cron", err)
		}
		e.cronID = cronID
		e.record.NextFireAt = sched.Next(s.clock.Now().In(s.location))
		s.armed++
	}
	return nil
}

// disarmLocked stops whatever delivery mechanism an entry currently uses.
// Caller must hold s.mu.
func (s *Scheduler) disarmLocked(e *entry) {
	if e.record.IsRecurring && e.cronID != 0 {
		s.cron.Remove(e.cronID)
		e.cronID = 0
		s.armed--
	}
	if e.oneShot != nil {
		e.oneShot.Stop()
		e.oneShot = nil
	}
}

// Get returns a copy of the scheduled task record.
func (s *Scheduler) Get(id string) (domain.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.ScheduledTask{}, orcherr.NotFound("scheduler", "get", orcherr.ErrScheduleNotFound)
	}
	return *e.record, nil
}

// List returns copies of all scheduled task records.
func (s *Scheduler) List() []domain.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScheduledTask, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e.record)
	}
	return out
}

// Close stops the cron runner, all pending one-shot timers, and waits for
// any in-flight fire to finish enqueuing.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, e := range s.entries {
		s.disarmLocked(e)
	}
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}
