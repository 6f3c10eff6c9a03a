package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "scheduler-test", LogLevel: "error", LogFormat: "text"})
}

type countingQueue struct {
	mu    sync.Mutex
	count int32
}

func (c *countingQueue) Enqueue(ctx context.Context, task *domain.Task) (string, error) {
	atomic.AddInt32(&c.count, 1)
	return task.ID, nil
}

func (c *countingQueue) fires() int32 { return atomic.LoadInt32(&c.count) }

func TestScheduleOnceInThePastFiresImmediately(t *testing.T) {
	q := &countingQueue{}
	s, err := New(testLogger(), Config{MaxConcurrentScheduled: 10}, q, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, nil)
	_, err = s.ScheduleOnce(context.Background(), task, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.fires() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), q.fires())
}

func TestScheduleRecurringCapacityExceeded(t *testing.T) {
	q := &countingQueue{}
	s, err := New(testLogger(), Config{MaxConcurrentScheduled: 1}, q, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, nil)
	_, err = s.ScheduleRecurring(context.Background(), task, "*/1 * * * *")
	require.NoError(t, err)

	_, err = s.ScheduleRecurring(context.Background(), task, "*/2 * * * *")
	require.Error(t, err)
}

func TestInvalidCronExprRejected(t *testing.T) {
	q := &countingQueue{}
	s, err := New(testLogger(), Config{MaxConcurrentScheduled: 10}, q, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, nil)
	_, err = s.ScheduleRecurring(context.Background(), task, "not a cron expr")
	require.Error(t, err)
}

func TestPauseThenResumeDoesNotDoubleArm(t *testing.T) {
	q := &countingQueue{}
	s, err := New(testLogger(), Config{MaxConcurrentScheduled: 1}, q, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, nil)
	id, err := s.ScheduleRecurring(context.Background(), task, "*/1 * * * *")
	require.NoError(t, err)

	require.NoError(t, s.Pause(id))
	require.Equal(t, 0, s.armed)
	require.NoError(t, s.Resume(id))
	require.Equal(t, 1, s.armed)

	rec, err := s.Get(id)
	require.NoError(t, err)
	require.True(t, rec.Enabled)
}

func TestCancelRemovesRecord(t *testing.T) {
	q := &countingQueue{}
	s, err := New(testLogger(), Config{MaxConcurrentScheduled: 10}, q, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, nil)
	id, err := s.ScheduleOnce(context.Background(), task, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Cancel(id))
	_, err = s.Get(id)
	require.Error(t, err)
}
