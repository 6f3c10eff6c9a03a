package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/internal/events"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "monitor-test", LogLevel: "error", LogFormat: "text"})
}

type fakeReader struct {
	mu    sync.Mutex
	pools []*collaborators.PoolState
}

func (f *fakeReader) GetPool(ctx context.Context, address string) (*collaborators.PoolState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pools {
		if p.Address == address {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeReader) GetPoolsForToken(ctx context.Context, tokenMint string) ([]*collaborators.PoolState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*collaborators.PoolState, len(f.pools))
	copy(out, f.pools)
	return out, nil
}

func (f *fakeReader) setPools(pools []*collaborators.PoolState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools = pools
}

func TestMigrationDetectedOnVenueTransition(t *testing.T) {
	reader := &fakeReader{pools: []*collaborators.PoolState{
		{Address: "curve1", TokenMint: "MINT", Venue: "pump-bonding-curve", TVL: decimal.NewFromInt(5000), Reserves: decimal.NewFromInt(5000)},
	}}
	bus := events.NewBus(4)
	m := New(testLogger(), reader, bus, Config{PollingInterval: time.Hour, MinLiquidity: decimal.NewFromInt(1000)}, nil)
	m.Watch("MINT")

	m.pollAll(context.Background())

	reader.setPools([]*collaborators.PoolState{
		{Address: "curve1", TokenMint: "MINT", Venue: "pump-bonding-curve", TVL: decimal.NewFromInt(5000), Reserves: decimal.Zero},
		{Address: "amm1", TokenMint: "MINT", Venue: "raydium-amm", TVL: decimal.NewFromInt(20000), Reserves: decimal.NewFromInt(20000)},
	})
	m.pollAll(context.Background())

	select {
	case evt := <-bus.Subscribe():
		require.Equal(t, events.KindMigrationDetected, evt.Kind)
		require.Equal(t, "pump-bonding-curve", evt.MigrationDetected.FromVenue)
		require.Equal(t, "raydium-amm", evt.MigrationDetected.ToVenue)
	default:
		t.Fatal("expected a migration event")
	}
}

func TestNoMigrationWhenLiquidityBelowMinimum(t *testing.T) {
	reader := &fakeReader{pools: []*collaborators.PoolState{
		{Address: "curve1", TokenMint: "MINT", Venue: "pump-bonding-curve", TVL: decimal.NewFromInt(5000), Reserves: decimal.NewFromInt(5000)},
	}}
	bus := events.NewBus(4)
	m := New(testLogger(), reader, bus, Config{PollingInterval: time.Hour, MinLiquidity: decimal.NewFromInt(50000)}, nil)
	m.Watch("MINT")
	m.pollAll(context.Background())

	reader.setPools([]*collaborators.PoolState{
		{Address: "curve1", TokenMint: "MINT", Venue: "pump-bonding-curve", TVL: decimal.NewFromInt(5000), Reserves: decimal.Zero},
		{Address: "amm1", TokenMint: "MINT", Venue: "raydium-amm", TVL: decimal.NewFromInt(900), Reserves: decimal.NewFromInt(900)},
	})
	m.pollAll(context.Background())

	select {
	case <-bus.Subscribe():
		t.Fatal("expected no migration event below min_liquidity")
	default:
	}
}

func TestAutoRedirectInvokesHook(t *testing.T) {
	reader := &fakeReader{pools: []*collaborators.PoolState{
		{Address: "curve1", TokenMint: "MINT", Venue: "pump-bonding-curve", TVL: decimal.NewFromInt(5000), Reserves: decimal.NewFromInt(5000)},
	}}
	bus := events.NewBus(4)

	var redirected string
	hook := func(tokenMint, newPoolAddress, newVenue string) { redirected = newPoolAddress }

	m := New(testLogger(), reader, bus, Config{PollingInterval: time.Hour, MinLiquidity: decimal.NewFromInt(1000), AutoRedirect: true}, hook)
	m.Watch("MINT")
	m.pollAll(context.Background())

	reader.setPools([]*collaborators.PoolState{
		{Address: "curve1", TokenMint: "MINT", Venue: "pump-bonding-curve", TVL: decimal.NewFromInt(5000), Reserves: decimal.Zero},
		{Address: "amm1", TokenMint: "MINT", Venue: "raydium-amm", TVL: decimal.NewFromInt(20000), Reserves: decimal.NewFromInt(20000)},
	})
	m.pollAll(context.Background())

	require.Equal(t, "amm1", redirected)
}

func TestUnwatchStopsPolling(t *testing.T) {
	reader := &fakeReader{pools: []*collaborators.PoolState{
		{Address: "curve1", TokenMint: "MINT", Venue: "pump-bonding-curve", TVL: decimal.NewFromInt(5000), Reserves: decimal.NewFromInt(5000)},
	}}
	bus := events.NewBus(4)
	m := New(testLogger(), reader, bus, Config{PollingInterval: time.Hour, MinLiquidity: decimal.NewFromInt(1000)}, nil)
	m.Watch("MINT")
	m.Unwatch("MINT")
	m.pollAll(context.Background())

	select {
	case <-bus.Subscribe():
		t.Fatal("unwatched token should not be polled")
	default:
	}
}

func TestStartStopLifecycle(t *testing.T) {
	reader := &fakeReader{}
	m := New(testLogger(), reader, nil, Config{PollingInterval: 10 * time.Millisecond}, nil)
	m.Watch("MINT")
	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	m.Stop()
}
