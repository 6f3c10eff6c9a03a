package adjuster

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "adjuster-test", LogLevel: "error", LogFormat: "text"})
}

// TestAutoAdjustUp implements spec.md scenario S5.
func TestAutoAdjustUp(t *testing.T) {
	cfg := domain.CampaignConfig{
		TargetVolume24h: decimal.NewFromInt(24_000_000), // 1,000,000/hour * 24h
		DurationHours:   24,
		BotCount:        10,
	}
	metrics := &domain.CampaignMetrics{
		TotalVolume:  decimal.NewFromInt(50_000),
		ElapsedHours: 0.1, // 6 minutes
	}

	a := New(testLogger(), "camp-1", Config{MaxBotDeltaPerTick: 10, MaxBots: 100}, func() domain.CampaignConfig { return cfg }, func() *domain.CampaignMetrics { return metrics }, func() int { return 10 }, nil, nil)

	rec, err := a.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	require.GreaterOrEqual(t, rec.AddBots, 1)
	require.LessOrEqual(t, rec.AddBots, 10)
}

func TestNoRecommendationWithinTolerance(t *testing.T) {
	cfg := domain.CampaignConfig{
		TargetVolume24h: decimal.NewFromInt(1_000_000),
		DurationHours:   1,
		BotCount:        10,
	}
	metrics := &domain.CampaignMetrics{
		TotalVolume:  decimal.NewFromInt(500_000),
		ElapsedHours: 0.5,
	}
	a := New(testLogger(), "camp-2", Config{}, func() domain.CampaignConfig { return cfg }, func() *domain.CampaignMetrics { return metrics }, func() int { return 10 }, nil, nil)

	rec, err := a.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	require.True(t, rec.IsNoOp())
}

func TestCoolDownSuppressesRepeatAdjustments(t *testing.T) {
	cfg := domain.CampaignConfig{
		TargetVolume24h: decimal.NewFromInt(24_000_000),
		DurationHours:   24,
		BotCount:        10,
	}
	metrics := &domain.CampaignMetrics{TotalVolume: decimal.NewFromInt(50_000), ElapsedHours: 0.1}
	a := New(testLogger(), "camp-3", Config{CoolDownSeconds: 120, MaxBotDeltaPerTick: 10, MaxBots: 100}, func() domain.CampaignConfig { return cfg }, func() *domain.CampaignMetrics { return metrics }, func() int { return 10 }, nil, nil)

	now := time.Now()
	rec1, err := a.Tick(context.Background(), now)
	require.NoError(t, err)
	require.True(t, rec1.AddBots >= 1)

	rec2, err := a.Tick(context.Background(), now.Add(10*time.Second))
	require.NoError(t, err)
	require.True(t, rec2.IsNoOp())

	rec3, err := a.Tick(context.Background(), now.Add(130*time.Second))
	require.NoError(t, err)
	require.True(t, rec3.AddBots >= 1)
}

func TestBoundsRespected(t *testing.T) {
	cfg := domain.CampaignConfig{
		TargetVolume24h: decimal.NewFromInt(24_000_000),
		DurationHours:   24,
		BotCount:        500,
	}
	metrics := &domain.CampaignMetrics{TotalVolume: decimal.NewFromInt(1_000), ElapsedHours: 1}
	a := New(testLogger(), "camp-4", Config{MaxBots: 500, MaxBotDeltaPerTick: 10}, func() domain.CampaignConfig { return cfg }, func() *domain.CampaignMetrics { return metrics }, func() int { return 500 }, nil, nil)

	rec, err := a.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, rec.AddBots)
	require.NotZero(t, rec.IntervalDeltaPct)
}
