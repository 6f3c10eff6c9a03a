package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "coordinator-test", LogLevel: "error", LogFormat: "text"})
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

func baseConfig() domain.BotConfig {
	return domain.BotConfig{
		TargetToken:    "MINT",
		Mode:           domain.ModeVolume,
		MinTradeSize:   decimal.NewFromInt(100),
		MaxTradeSize:   decimal.NewFromInt(200),
		MinIntervalMS:  5000,
		MaxIntervalMS:  10000,
		BuyProbability: 0.5,
		MaxDailyTrades: 1000,
		MaxDailyVolume: decimal.NewFromInt(1_000_000),
		Enabled:        true,
	}
}

func TestMaxConcurrentBotsEnforced(t *testing.T) {
	c := New(testLogger(), Config{MaxConcurrentBots: 1}, &recordingQueue{}, nil, nil, nil)
	b1, err := c.CreateBot(context.Background(), baseConfig(), "retail")
	require.NoError(t, err)
	b2, err := c.CreateBot(context.Background(), baseConfig(), "retail")
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background(), b1.ID))
	err = c.Start(context.Background(), b2.ID)
	require.Error(t, err)
	require.Equal(t, 1, c.RunningCount())
}

func TestCreateBotSwarmAssignsDistinctWallets(t *testing.T) {
	c := New(testLogger(), Config{MaxConcurrentBots: 10}, &recordingQueue{}, nil, nil, nil)
	bots, err := c.CreateBotSwarm(context.Background(), 5, baseConfig(), "swarm-tag", nil)
	require.NoError(t, err)
	require.Len(t, bots, 5)

	seen := map[string]bool{}
	for _, b := range bots {
		wid := b.Config().WalletID
		require.False(t, seen[wid])
		seen[wid] = true
	}
}

func TestShutdownStopsRunningBotWithinDeadline(t *testing.T) {
	c := New(testLogger(), Config{MaxConcurrentBots: 10}, &recordingQueue{}, nil, nil, nil)
	cfg := baseConfig()
	cfg.MinIntervalMS = 1
	cfg.MaxIntervalMS = 2
	b, err := c.CreateBot(context.Background(), cfg, "retail")
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background(), b.ID))

	err = c.Shutdown(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.BotStopped, b.State())
}

type fakeExecutor struct{ fail error }

func (f *fakeExecutor) ExecuteSwap(ctx context.Context, req collaborators.SwapRequest) (*collaborators.SwapResult, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return &collaborators.SwapResult{Signature: "sig", AmountIn: req.Amount, AmountOut: req.Amount, Fee: decimal.NewFromInt(1)}, nil
}

func TestSwapProcessorRecordsOutcome(t *testing.T) {
	c := New(testLogger(), Config{MaxConcurrentBots: 10}, &recordingQueue{}, nil, nil, nil)
	b, err := c.CreateBot(context.Background(), baseConfig(), "retail")
	require.NoError(t, err)

	proc := c.NewSwapProcessor(&fakeExecutor{}, nil, nil)
	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, map[string]interface{}{
		"side": "buy", "amount": "150",
	})
	task.BotID = b.ID
	require.NoError(t, proc(context.Background(), task))

	st := b.Status()
	require.Equal(t, 1, st.TradesCompleted)
}

type fakeTradeRecorder struct {
	mu       sync.Mutex
	recorded []*domain.TradeRecord
}

func (f *fakeTradeRecorder) RecordTrade(ctx context.Context, campaignID string, trade *domain.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, trade)
	return nil
}

func TestSwapProcessorAttributesTradeToCampaign(t *testing.T) {
	c := New(testLogger(), Config{MaxConcurrentBots: 10}, &recordingQueue{}, nil, nil, nil)
	cfg := baseConfig()
	cfg.CampaignID = "camp-1"
	b, err := c.CreateBot(context.Background(), cfg, "retail")
	require.NoError(t, err)

	recorder := &fakeTradeRecorder{}
	proc := c.NewSwapProcessor(&fakeExecutor{}, nil, recorder)
	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, map[string]interface{}{
		"side": "buy", "amount": "150",
	})
	task.BotID = b.ID
	task.CampaignID = "camp-1"
	require.NoError(t, proc(context.Background(), task))

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.recorded, 1)
	require.Equal(t, "camp-1", recorder.recorded[0].CampaignID)
	require.True(t, recorder.recorded[0].Success)
}

func TestSwapProcessorClassifiesFailure(t *testing.T) {
	c := New(testLogger(), Config{MaxConcurrentBots: 10}, &recordingQueue{}, nil, nil, nil)
	b, err := c.CreateBot(context.Background(), baseConfig(), "retail")
	require.NoError(t, err)

	proc := c.NewSwapProcessor(&fakeExecutor{fail: collaborators.ErrSlippageExceeded}, nil, nil)
	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, map[string]interface{}{
		"side": "buy", "amount": "150",
	})
	task.BotID = b.ID
	err = proc(context.Background(), task)
	require.Error(t, err)
	require.False(t, orcherr.IsRetryable(err))
}
