// Package monitor implements the Pool/Migration Monitor (spec §4.10): it
// polls pool state for each watched token and emits a migration event when
// a token's liquidity moves from one venue class to another, grounded on
// the teacher's ProgramManager/DeFiService polling and venue-classification
// shape (internal/web3/solana/program_manager.go, defi_service.go) adapted
// from one-shot RPC calls into a recurring watch loop.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/events"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

// Config carries the monitor's tunables (spec §6 pool_monitor.*).
type Config struct {
	PollingInterval time.Duration
	MinLiquidity    decimal.Decimal
	AutoRedirect    bool

	// CollapseThreshold is the fraction of a venue's last-seen reserves
	// below which it is considered collapsed (spec §4.10 detection rule).
	CollapseThreshold decimal.Decimal
}

// RedirectHook is invoked when auto_redirect is enabled and a migration is
// detected, letting the Manager update bot target-pool hints and clear
// cached routes (spec §4.10).
type RedirectHook func(tokenMint, newPoolAddress, newVenue string)

// watchedToken tracks the last-seen pool-state snapshot for one token so
// successive polls can detect a venue-class transition.
type watchedToken struct {
	mint     string
	lastSeen map[string]*collaborators.PoolState // address -> state
}

// Monitor polls PoolStateReader for each watched token and fires migration
// events to its bus on detection.
type Monitor struct {
	logger   *observability.Logger
	perf     *observability.PerformanceLogger
	reader   collaborators.PoolStateReader
	bus      *events.Bus
	config   Config
	redirect RedirectHook

	mu      sync.Mutex
	watched map[string]*watchedToken

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Monitor. redirect may be nil; it is only called when
// Config.AutoRedirect is true.
func New(logger *observability.Logger, reader collaborators.PoolStateReader, bus *events.Bus, config Config, redirect RedirectHook) *Monitor {
	if config.PollingInterval <= 0 {
		config.PollingInterval = 10 * time.Second
	}
	if config.CollapseThreshold.IsZero() {
		config.CollapseThreshold = decimal.NewFromFloat(0.1)
	}
	return &Monitor{
		logger:   logger,
		perf:     observability.NewPerformanceLogger(logger),
		reader:   reader,
		bus:      bus,
		config:   config,
		redirect: redirect,
		watched:  make(map[string]*watchedToken),
	}
}

// Watch adds a token mint to the polling set.
func (m *Monitor) Watch(tokenMint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[tokenMint]; ok {
		return
	}
	m.watched[tokenMint] = &watchedToken{mint: tokenMint, lastSeen: make(map[string]*collaborators.PoolState)}
}

// Unwatch removes a token mint from the polling set.
func (m *Monitor) Unwatch(tokenMint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, tokenMint)
}

// Start launches the polling loop. Start is idempotent; calling it twice
// on an already-running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runLoop(ctx, stopCh)
}

// Stop halts the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	m.stopCh = nil
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	m.wg.Wait()
}

func (m *Monitor) runLoop(ctx context.Context, stopCh chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollAll(ctx)
		}
	}
}

func (m *Monitor) pollAll(ctx context.Context) {
	start := time.Now()
	m.mu.Lock()
	mints := make([]string, 0, len(m.watched))
	for mint := range m.watched {
		mints = append(mints, mint)
	}
	m.mu.Unlock()

	for _, mint := range mints {
		m.pollToken(ctx, mint)
	}

	m.perf.LogSlowOperation(ctx, "pool_monitor_poll_all", time.Since(start), m.config.PollingInterval,
		map[string]interface{}{"watched_tokens": len(mints)})
}

// pollToken fetches current pools for one token and applies the migration
// detection rule against the last-seen snapshot (spec §4.10): a token has
// migrated when a new pool appears in a different venue class with TVL
// above min_liquidity, and the prior venue's reserves have collapsed below
// CollapseThreshold of their last-seen value.
func (m *Monitor) pollToken(ctx context.Context, tokenMint string) {
	pools, err := m.reader.GetPoolsForToken(ctx, tokenMint)
	if err != nil {
		m.logger.Error(ctx, "pool monitor poll failed", err, map[string]interface{}{"token_mint": tokenMint})
		return
	}

	m.mu.Lock()
	wt, ok := m.watched[tokenMint]
	if !ok {
		m.mu.Unlock()
		return
	}
	prev := wt.lastSeen
	next := make(map[string]*collaborators.PoolState, len(pools))
	for _, p := range pools {
		next[p.Address] = p
	}

	var migrations []events.MigrationDetectedPayload
	for addr, p := range next {
		if _, seen := prev[addr]; seen {
			continue // not a new pool this poll
		}
		if p.TVL.LessThan(m.config.MinLiquidity) {
			continue
		}
		fromVenue, collapsed := m.findCollapsedVenue(prev, next, p.Venue)
		if !collapsed {
			continue
		}
		migrations = append(migrations, events.MigrationDetectedPayload{
			TokenMint: tokenMint,
			FromVenue: fromVenue,
			ToVenue:   p.Venue,
		})
	}
	wt.lastSeen = next
	m.mu.Unlock()

	for _, mig := range migrations {
		m.handleMigration(ctx, mig, next)
	}
}

// findCollapsedVenue looks for a pool that was seen in a different venue
// class than newVenue on the previous poll and has since collapsed: either
// it dropped out of this poll's readings entirely, or its current reserves
// fell below CollapseThreshold of its previously observed reserves.
func (m *Monitor) findCollapsedVenue(prev, next map[string]*collaborators.PoolState, newVenue string) (string, bool) {
	for addr, p := range prev {
		if p.Venue == newVenue {
			continue
		}
		threshold := p.Reserves.Mul(m.config.CollapseThreshold)
		current, stillSeen := next[addr]
		if !stillSeen {
			return p.Venue, true
		}
		if current.Reserves.LessThanOrEqual(threshold) {
			return p.Venue, true
		}
	}
	return "", false
}

func (m *Monitor) handleMigration(ctx context.Context, mig events.MigrationDetectedPayload, current map[string]*collaborators.PoolState) {
	m.logger.Info(ctx, "migration detected", map[string]interface{}{
		"token_mint": mig.TokenMint, "from_venue": mig.FromVenue, "to_venue": mig.ToVenue,
	})
	if m.bus != nil {
		m.bus.Publish(events.Event{Kind: events.KindMigrationDetected, Source: mig.TokenMint, At: time.Now(), MigrationDetected: &mig})
	}
	if !m.config.AutoRedirect || m.redirect == nil {
		return
	}
	var newPool string
	for addr, p := range current {
		if p.Venue == mig.ToVenue {
			newPool = addr
			break
		}
	}
	m.redirect(mig.TokenMint, newPool, mig.ToVenue)
}
