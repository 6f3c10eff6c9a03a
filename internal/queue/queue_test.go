package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
	"github.com/solbotswarm/orchestrator/pkg/observability"
	"github.com/stretchr/testify/require"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "queue-test", LogLevel: "error", LogFormat: "text"})
}

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) key(ns, k string) string { return ns + "/" + k }

func (m *memKV) Get(ctx context.Context, ns, k string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[m.key(ns, k)]
	return v, ok, nil
}

func (m *memKV) Set(ctx context.Context, ns, k string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.key(ns, k)] = v
	return nil
}

func (m *memKV) Delete(ctx context.Context, ns, k string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, m.key(ns, k))
	return nil
}

func (m *memKV) CAS(ctx context.Context, ns, k string, old, newV []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.data[m.key(ns, k)]
	if old == nil && exists {
		return false, nil
	}
	if old != nil && (!exists || string(cur) != string(old)) {
		return false, nil
	}
	m.data[m.key(ns, k)] = newV
	return true, nil
}

var _ collaborators.KVStore = (*memKV)(nil)

func fastRetryConfig() Config {
	return Config{
		Concurrency: 10,
		Retry: RetryPolicy{
			MaxAttempts:  2,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			JitterPct:    0,
		},
	}
}

func TestRetryExhaustionS2(t *testing.T) {
	ctx := context.Background()
	q := New(testLogger(), fastRetryConfig(), newMemKV(), nil)

	var attempts int32
	q.RegisterProcessor(domain.TaskSwap, func(ctx context.Context, task *domain.Task) error {
		n := atomic.AddInt32(&attempts, 1)
		return orcherr.TransientExternal("test", "swap", fmt.Errorf("attempt %d failed", n))
	})

	require.NoError(t, q.StartProcessing(ctx))
	defer q.Close(ctx)

	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, nil)
	task.MaxRetries = 2
	_, err := q.Enqueue(ctx, task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return q.QueueStats().FailedLastInterval == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, domain.TaskFailed, task.Status)
	require.LessOrEqual(t, task.RetryCount, task.MaxRetries)
}

func TestPriorityOrderRespected(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Concurrency: 1, Retry: DefaultRetryPolicy()}
	q := New(testLogger(), cfg, newMemKV(), nil)

	var mu sync.Mutex
	var order []string

	q.RegisterProcessor(domain.TaskSwap, func(ctx context.Context, task *domain.Task) error {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return nil
	})

	q.Pause()
	ids := []struct {
		id       string
		priority domain.Priority
	}{
		{"low-1", domain.PriorityLow},
		{"normal-1", domain.PriorityNormal},
		{"critical-1", domain.PriorityCritical},
		{"high-1", domain.PriorityHigh},
		{"critical-2", domain.PriorityCritical},
	}
	for _, e := range ids {
		task := domain.NewTask(domain.TaskSwap, e.priority, nil)
		task.ID = e.id
		_, err := q.Enqueue(ctx, task)
		require.NoError(t, err)
	}

	require.NoError(t, q.StartProcessing(ctx))
	q.Resume()
	defer q.Close(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == len(ids)
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"critical-1", "critical-2", "high-1", "normal-1", "low-1"}, order)
}

func TestProcessorAlreadyRegistered(t *testing.T) {
	q := New(testLogger(), fastRetryConfig(), nil, nil)
	require.NoError(t, q.RegisterProcessor(domain.TaskSwap, func(ctx context.Context, task *domain.Task) error { return nil }))
	err := q.RegisterProcessor(domain.TaskSwap, func(ctx context.Context, task *domain.Task) error { return nil })
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, orcherr.KindStateConflict, kind)
}

func TestEnqueueBatchReturnsIdsInOrder(t *testing.T) {
	ctx := context.Background()
	q := New(testLogger(), fastRetryConfig(), newMemKV(), nil)

	tasks := []*domain.Task{
		domain.NewTask(domain.TaskSwap, domain.PriorityNormal, nil),
		domain.NewTask(domain.TaskTransfer, domain.PriorityLow, nil),
		domain.NewTask(domain.TaskBalance, domain.PriorityHigh, nil),
	}
	ids, err := q.EnqueueBatch(ctx, tasks)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for i, id := range ids {
		require.Equal(t, tasks[i].ID, id)
	}
}

func TestNonRetryableErrorFailsImmediately(t *testing.T) {
	ctx := context.Background()
	q := New(testLogger(), fastRetryConfig(), newMemKV(), nil)

	var attempts int32
	q.RegisterProcessor(domain.TaskSwap, func(ctx context.Context, task *domain.Task) error {
		atomic.AddInt32(&attempts, 1)
		return orcherr.PermanentExternal("test", "swap", collaboratorsErrNoRoute())
	})

	require.NoError(t, q.StartProcessing(ctx))
	defer q.Close(ctx)

	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, nil)
	_, err := q.Enqueue(ctx, task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return task.Status == domain.TaskFailed
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	require.Equal(t, 0, task.RetryCount)
}

func collaboratorsErrNoRoute() error { return fmt.Errorf("no route") }
