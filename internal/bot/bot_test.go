package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/internal/antidetect"
	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/randomization"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "bot-test", LogLevel: "error", LogFormat: "text"})
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []*domain.Task
}

func (q *recordingQueue) Enqueue(ctx context.Context, task *domain.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return task.ID, nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func baseConfig() domain.BotConfig {
	return domain.BotConfig{
		WalletID:       "w1",
		TargetToken:    "MINT",
		Mode:           domain.ModeVolume,
		MinTradeSize:   decimal.NewFromInt(100),
		MaxTradeSize:   decimal.NewFromInt(200),
		MinIntervalMS:  10,
		MaxIntervalMS:  20,
		BuyProbability: 0.5,
		MaxDailyTrades: 1000,
		MaxDailyVolume: decimal.NewFromInt(1_000_000),
		Enabled:        true,
	}
}

func TestBotLifecycleTransitions(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := &recordingQueue{}
	b := New("bot-1", baseConfig(), antidetect.Catalog[antidetect.ProfileRetail], testLogger(), q, randomization.NewSeeded(1), clock, nil)

	require.Equal(t, domain.BotIdle, b.State())
	require.NoError(t, b.Start(context.Background()))
	require.Equal(t, domain.BotRunning, b.State())

	require.Eventually(t, func() bool { return q.count() > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.Pause(context.Background()))
	require.Equal(t, domain.BotPaused, b.State())

	require.NoError(t, b.Stop(context.Background()))
	require.Equal(t, domain.BotStopped, b.State())

	err := b.Start(context.Background())
	require.Error(t, err)
}

func TestBotDailyCapStopsEmission(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := &recordingQueue{}
	cfg := baseConfig()
	cfg.MaxDailyTrades = 1
	b := New("bot-2", cfg, antidetect.Catalog[antidetect.ProfileRetail], testLogger(), q, randomization.NewSeeded(2), clock, nil)
	b.status.TradesToday = 1

	require.NoError(t, b.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Stop(context.Background()))
	require.Equal(t, 0, q.count())
}

func TestRecordOutcomeUpdatesCounters(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	b := New("bot-3", baseConfig(), antidetect.Catalog[antidetect.ProfileRetail], testLogger(), &recordingQueue{}, randomization.NewSeeded(3), clock, nil)

	b.RecordOutcome(clock.Now(), true, decimal.NewFromInt(500), "")
	st := b.Status()
	require.Equal(t, 1, st.TradesCompleted)
	require.True(t, st.VolumeGenerated.Equal(decimal.NewFromInt(500)))

	b.RecordOutcome(clock.Now(), false, decimal.Zero, "simulation failed")
	st = b.Status()
	require.Len(t, st.Errors, 1)
}
