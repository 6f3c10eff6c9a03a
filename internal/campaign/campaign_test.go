package campaign

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/internal/coordinator"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "campaign-test", LogLevel: "error", LogFormat: "text"})
}

type noopQueue struct{}

func (noopQueue) Enqueue(ctx context.Context, task *domain.Task) (string, error) { return task.ID, nil }

func newManager(t *testing.T) *Manager {
	t.Helper()
	coord := coordinator.New(testLogger(), coordinator.Config{MaxConcurrentBots: 100}, noopQueue{}, nil, nil, nil)
	return NewManager(testLogger(), coord, nil, nil, 10)
}

func baseCampaignConfig() domain.CampaignConfig {
	return domain.CampaignConfig{
		Name:                "tiny",
		TargetToken:         "MINT",
		TargetVolume24h:     decimal.NewFromInt(1_000_000),
		TargetTxCount24h:    10,
		DurationHours:       1,
		BotCount:            2,
		Mode:                domain.CampaignModerate,
		WalletFundingAmount: decimal.NewFromInt(10_000),
	}
}

// TestTinyCampaignHitsTarget implements spec.md scenario S1.
func TestTinyCampaignHitsTarget(t *testing.T) {
	m := newManager(t)
	c, err := m.CreateCampaign(context.Background(), baseCampaignConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), c.ID, nil))

	for i := 0; i < 10; i++ {
		trade := domain.NewTradeRecord()
		trade.CampaignID = c.ID
		trade.Side = domain.SideBuy
		trade.Amount = decimal.NewFromInt(100_000)
		trade.Fees = decimal.Zero
		trade.WalletID = "w1"
		trade.Success = true
		require.NoError(t, m.RecordTrade(context.Background(), c.ID, trade))
	}

	metrics, err := m.GetMetrics(c.ID)
	require.NoError(t, err)
	require.True(t, metrics.TotalVolume.Equal(decimal.NewFromInt(1_000_000)))
	require.Equal(t, 100.0, metrics.ProgressPercent)

	status, err := m.GetStatus(c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignCompleted, status.State)
}

func TestRecordTradeIdempotentOnTradeID(t *testing.T) {
	m := newManager(t)
	c, err := m.CreateCampaign(context.Background(), baseCampaignConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), c.ID, nil))

	trade := domain.NewTradeRecord()
	trade.CampaignID = c.ID
	trade.Amount = decimal.NewFromInt(500)
	trade.Success = true
	trade.WalletID = "w1"

	require.NoError(t, m.RecordTrade(context.Background(), c.ID, trade))
	require.NoError(t, m.RecordTrade(context.Background(), c.ID, trade))

	metrics, err := m.GetMetrics(c.ID)
	require.NoError(t, err)
	require.True(t, metrics.TotalVolume.Equal(decimal.NewFromInt(500)))
	require.Equal(t, 1, metrics.TxCount)
}

func TestUpdateConfigRejectsTargetBelowAchieved(t *testing.T) {
	m := newManager(t)
	c, err := m.CreateCampaign(context.Background(), baseCampaignConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), c.ID, nil))

	trade := domain.NewTradeRecord()
	trade.CampaignID = c.ID
	trade.Amount = decimal.NewFromInt(500_000)
	trade.Success = true
	trade.WalletID = "w1"
	require.NoError(t, m.RecordTrade(context.Background(), c.ID, trade))

	err = m.UpdateConfig(c.ID, domain.CampaignConfig{TargetVolume24h: decimal.NewFromInt(100_000)})
	require.Error(t, err)
}

func TestMaxConcurrentCampaignsEnforced(t *testing.T) {
	coord := coordinator.New(testLogger(), coordinator.Config{MaxConcurrentBots: 100}, noopQueue{}, nil, nil, nil)
	m := NewManager(testLogger(), coord, nil, nil, 1)
	_, err := m.CreateCampaign(context.Background(), baseCampaignConfig())
	require.NoError(t, err)
	c2, err := m.CreateCampaign(context.Background(), baseCampaignConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), c2.ID, nil))

	_, err = m.CreateCampaign(context.Background(), baseCampaignConfig())
	require.Error(t, err)
}
