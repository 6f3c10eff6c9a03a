// Package campaign implements the Volume Campaign entity and the Campaign
// Manager (spec §4.7-§4.8), grounded on the teacher's campaign-oriented
// aggregate state patterns (other_examples campaign-orchestrator) adapted
// to id-indexed bot membership instead of direct handles.
package campaign

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/coordinator"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/events"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

// intervalBand and sizeBand are derived from campaign mode / funding per
// spec §4.8.
type intervalBand struct{ minMS, maxMS int64 }

var intervalBands = map[domain.CampaignMode]intervalBand{
	domain.CampaignAggressive: {5_000, 60_000},
	domain.CampaignModerate:   {15_000, 300_000},
	domain.CampaignStealth:    {60_000, 900_000},
}

// Manager creates, starts, and tears down campaigns, deriving per-bot
// parameters from campaign config and materializing bots via the
// Coordinator (spec §4.8).
type Manager struct {
	logger      *observability.Logger
	coordinator *coordinator.Coordinator
	clock       collaborators.TimeSource
	bus         *events.Bus
	maxActive   int

	mu        sync.RWMutex
	campaigns map[string]*domain.Campaign
	adjusters map[string]Adjuster
}

// Adjuster is the slice of the Auto-Adjuster the Manager drives, declared
// here so this package does not import internal/adjuster (the two share
// only internal/domain types; cmd/orchestrator wires them together).
type Adjuster interface {
	Tick(ctx context.Context, now time.Time) (domain.AdjustmentRecommendation, error)
	Close()
}

// AdjusterFactory constructs an Adjuster for a newly created campaign.
type AdjusterFactory func(campaignID string, config domain.CampaignConfig, metricsSnapshot func() *domain.CampaignMetrics, botCount func() int) Adjuster

// NewManager constructs a Campaign Manager.
func NewManager(logger *observability.Logger, coord *coordinator.Coordinator, clock collaborators.TimeSource, bus *events.Bus, maxActiveCampaigns int) *Manager {
	if clock == nil {
		clock = collaborators.SystemTime{}
	}
	if maxActiveCampaigns <= 0 {
		maxActiveCampaigns = 50
	}
	return &Manager{
		logger:      logger,
		coordinator: coord,
		clock:       clock,
		bus:         bus,
		maxActive:   maxActiveCampaigns,
		campaigns:   make(map[string]*domain.Campaign),
		adjusters:   make(map[string]Adjuster),
	}
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, c := range m.campaigns {
		if c.State == domain.CampaignActive {
			n++
		}
	}
	return n
}

// CreateCampaign validates config and campaign capacity and registers a
// draft campaign. It does not start the campaign or create its bots;
// per-bot parameters are derived from config when Start materializes them.
func (m *Manager) CreateCampaign(ctx context.Context, cfg domain.CampaignConfig) (*domain.Campaign, error) {
	if cfg.BotCount <= 0 {
		return nil, orcherr.Validation("campaign_manager", "create_campaign", fmt.Errorf("bot_count must be positive"))
	}
	if _, ok := intervalBands[cfg.Mode]; !ok {
		return nil, orcherr.Validation("campaign_manager", "create_campaign", fmt.Errorf("unknown mode %q", cfg.Mode))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeCountLocked() >= m.maxActive {
		return nil, orcherr.CapacityExceeded("campaign_manager", "create_campaign", orcherr.ErrMaxConcurrentCampaigns)
	}

	c := &domain.Campaign{
		ID:        uuid.New().String(),
		Config:    cfg,
		State:     domain.CampaignDraft,
		Metrics:   domain.NewCampaignMetrics(),
		CreatedAt: m.clock.Now(),
	}
	m.campaigns[c.ID] = c
	return c, nil
}

// perBotParams derives per-bot caps and bands from campaign config (spec
// §4.8): per_bot_max_daily_trades, per_bot_max_daily_volume, interval
// band from mode, trade-size band from walletFundingAmount.
func perBotParams(cfg domain.CampaignConfig) (maxDailyTrades int, maxDailyVolume decimal.Decimal, minInterval, maxInterval int64, minSize, maxSize decimal.Decimal) {
	n := int64(cfg.BotCount)
	maxDailyTrades = int(math.Ceil(float64(cfg.TargetTxCount24h) / float64(cfg.BotCount)))
	maxDailyVolume = cfg.TargetVolume24h.Div(decimal.NewFromInt(n))

	band := intervalBands[cfg.Mode]
	minInterval, maxInterval = band.minMS, band.maxMS

	minSize = cfg.WalletFundingAmount.Div(decimal.NewFromInt(100))
	maxSize = cfg.WalletFundingAmount.Div(decimal.NewFromInt(10))
	return
}

// Start transitions draft -> active, materializes bots via the
// Coordinator, attaches them to the campaign, and (if factory is
// non-nil) spins up an Auto-Adjuster.
func (m *Manager) Start(ctx context.Context, campaignID string, factory AdjusterFactory) error {
	m.mu.Lock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.Unlock()
		return orcherr.NotFound("campaign_manager", "start", orcherr.ErrCampaignNotFound)
	}
	if c.State != domain.CampaignDraft && c.State != domain.CampaignPaused {
		m.mu.Unlock()
		return orcherr.StateConflict("campaign_manager", "start", fmt.Errorf("campaign %s is %s", campaignID, c.State))
	}
	cfg := c.Config
	fromState := c.State
	m.mu.Unlock()

	if fromState == domain.CampaignDraft {
		maxDailyTrades, maxDailyVolume, minInterval, maxInterval, minSize, maxSize := perBotParams(cfg)
		base := domain.BotConfig{
			TargetToken:    cfg.TargetToken,
			Mode:           domain.ModeVolume,
			MinTradeSize:   minSize,
			MaxTradeSize:   maxSize,
			MinIntervalMS:  minInterval,
			MaxIntervalMS:  maxInterval,
			BuyProbability: 0.5,
			MaxDailyTrades: maxDailyTrades,
			MaxDailyVolume: maxDailyVolume,
			CampaignID:     campaignID,
			Enabled:        true,
		}
		bots, err := m.coordinator.CreateBotSwarm(ctx, cfg.BotCount, base, cfg.WalletTag, nil)
		if err != nil {
			return err
		}

		m.mu.Lock()
		for _, b := range bots {
			c.BotIDs = append(c.BotIDs, b.ID)
		}
		m.mu.Unlock()
	}

	started, _ := m.startCampaignBots(ctx, c)
	_ = started

	m.mu.Lock()
	now := m.clock.Now()
	c.State = domain.CampaignActive
	if c.StartedAt == nil {
		c.StartedAt = &now
	}
	if factory != nil {
		if _, exists := m.adjusters[campaignID]; !exists {
			m.adjusters[campaignID] = factory(campaignID, cfg, func() *domain.CampaignMetrics { return m.snapshotMetrics(campaignID) }, func() int { return m.botCount(campaignID) })
		}
	}
	m.mu.Unlock()

	m.publish(campaignID, events.KindStateChanged, &events.StateChangedPayload{From: string(fromState), To: string(domain.CampaignActive)}, nil, nil, nil)
	return nil
}

func (m *Manager) startCampaignBots(ctx context.Context, c *domain.Campaign) (started int, err error) {
	m.mu.RLock()
	ids := append([]string(nil), c.BotIDs...)
	m.mu.RUnlock()
	for _, id := range ids {
		if serr := m.coordinator.Start(ctx, id); serr == nil {
			started++
		}
	}
	return started, nil
}

func (m *Manager) snapshotMetrics(campaignID string) *domain.CampaignMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return domain.NewCampaignMetrics()
	}
	cp := *c.Metrics
	return &cp
}

func (m *Manager) botCount(campaignID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return 0
	}
	return len(c.BotIDs)
}

// Pause pauses an active campaign's bots; metrics and bot membership are
// retained.
func (m *Manager) Pause(ctx context.Context, campaignID string) error {
	m.mu.Lock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.Unlock()
		return orcherr.NotFound("campaign_manager", "pause", orcherr.ErrCampaignNotFound)
	}
	if c.State != domain.CampaignActive {
		m.mu.Unlock()
		return orcherr.StateConflict("campaign_manager", "pause", fmt.Errorf("campaign %s is %s", campaignID, c.State))
	}
	ids := append([]string(nil), c.BotIDs...)
	c.State = domain.CampaignPaused
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.coordinator.Pause(ctx, id)
	}
	m.publish(campaignID, events.KindStateChanged, &events.StateChangedPayload{From: string(domain.CampaignActive), To: string(domain.CampaignPaused)}, nil, nil, nil)
	return nil
}

// Stop terminally stops a campaign: its bots are removed from the
// Coordinator and the campaign transitions to completed.
func (m *Manager) Stop(ctx context.Context, campaignID string) error {
	m.mu.Lock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.Unlock()
		return orcherr.NotFound("campaign_manager", "stop", orcherr.ErrCampaignNotFound)
	}
	ids := append([]string(nil), c.BotIDs...)
	fromState := c.State
	now := m.clock.Now()
	c.State = domain.CampaignCompleted
	c.EndedAt = &now
	if adj, exists := m.adjusters[campaignID]; exists {
		adj.Close()
		delete(m.adjusters, campaignID)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.coordinator.Remove(ctx, id)
	}
	m.publish(campaignID, events.KindStateChanged, &events.StateChangedPayload{From: string(fromState), To: string(domain.CampaignCompleted)}, nil, nil, nil)
	return nil
}

// Remove deletes a campaign record entirely; its bots must already be
// stopped (call Stop first).
func (m *Manager) Remove(campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[campaignID]; !ok {
		return orcherr.NotFound("campaign_manager", "remove", orcherr.ErrCampaignNotFound)
	}
	delete(m.campaigns, campaignID)
	if adj, exists := m.adjusters[campaignID]; exists {
		adj.Close()
		delete(m.adjusters, campaignID)
	}
	return nil
}

// GetStatus returns a copy of a campaign's entity.
func (m *Manager) GetStatus(campaignID string) (domain.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return domain.Campaign{}, orcherr.NotFound("campaign_manager", "get_status", orcherr.ErrCampaignNotFound)
	}
	return *c, nil
}

// GetMetrics returns a copy of a campaign's current metrics.
func (m *Manager) GetMetrics(campaignID string) (domain.CampaignMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return domain.CampaignMetrics{}, orcherr.NotFound("campaign_manager", "get_metrics", orcherr.ErrCampaignNotFound)
	}
	return *c.Metrics, nil
}

// RecordTrade folds a trade outcome into the owning campaign's aggregate
// metrics (spec §4.7), idempotent on trade id, and fires target-reached
// events the first time a threshold is crossed.
func (m *Manager) RecordTrade(ctx context.Context, campaignID string, trade *domain.TradeRecord) error {
	m.mu.Lock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.Unlock()
		return orcherr.NotFound("campaign_manager", "record_trade", orcherr.ErrCampaignNotFound)
	}
	if c.Metrics.AlreadySeen(trade.ID) {
		m.mu.Unlock()
		return nil
	}
	c.Metrics.MarkSeen(trade.ID)
	c.Metrics.AddOutcome(trade.Success)
	if trade.Success {
		c.Metrics.TotalVolume = c.Metrics.TotalVolume.Add(trade.Amount)
		if trade.Side == domain.SideBuy {
			c.Metrics.BuyVolume = c.Metrics.BuyVolume.Add(trade.Amount)
		} else {
			c.Metrics.SellVolume = c.Metrics.SellVolume.Add(trade.Amount)
		}
		c.Metrics.TxCount++
		c.Metrics.TotalFees = c.Metrics.TotalFees.Add(trade.Fees)
		c.Metrics.MarkWallet(trade.WalletID)
		if c.Metrics.TxCount > 0 {
			c.Metrics.AvgTradeSize = c.Metrics.TotalVolume.Div(decimal.NewFromInt(int64(c.Metrics.TxCount)))
		}
	}
	c.Metrics.RecalculateSuccessRate()
	if c.StartedAt != nil {
		c.Metrics.ElapsedHours = m.clock.Now().Sub(*c.StartedAt).Hours()
	}
	if !c.Config.TargetVolume24h.IsZero() {
		pct := c.Metrics.TotalVolume.Div(c.Config.TargetVolume24h).Mul(decimal.NewFromInt(100))
		p, _ := pct.Float64()
		if p > 100 {
			p = 100
		}
		c.Metrics.ProgressPercent = p
	}

	var fireVolume, fireTx bool
	if !c.Config.TargetVolume24h.IsZero() && c.Metrics.TotalVolume.GreaterThanOrEqual(c.Config.TargetVolume24h) {
		fireVolume = c.Metrics.MarkReachedOnce(domain.TargetVolume)
	}
	if c.Config.TargetTxCount24h > 0 && c.Metrics.TxCount >= c.Config.TargetTxCount24h {
		fireTx = c.Metrics.MarkReachedOnce(domain.TargetTransactions)
	}
	completed := fireVolume || fireTx
	if completed {
		now := m.clock.Now()
		c.State = domain.CampaignCompleted
		c.EndedAt = &now
	}
	m.mu.Unlock()

	if fireVolume {
		m.publish(campaignID, events.KindTargetReached, nil, &events.TargetReachedPayload{Category: events.TargetVolume}, nil, nil)
	}
	if fireTx {
		m.publish(campaignID, events.KindTargetReached, nil, &events.TargetReachedPayload{Category: events.TargetTransactions}, nil, nil)
	}
	return nil
}

// UpdateConfig validates monotone constraints (cannot set target below
// already-achieved) and applies a partial config update.
func (m *Manager) UpdateConfig(campaignID string, partial domain.CampaignConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return orcherr.NotFound("campaign_manager", "update_config", orcherr.ErrCampaignNotFound)
	}
	if !partial.TargetVolume24h.IsZero() {
		if partial.TargetVolume24h.LessThan(c.Metrics.TotalVolume) {
			return orcherr.Validation("campaign_manager", "update_config", orcherr.ErrTargetBelowAchieved)
		}
		c.Config.TargetVolume24h = partial.TargetVolume24h
	}
	if partial.TargetTxCount24h > 0 {
		if partial.TargetTxCount24h < c.Metrics.TxCount {
			return orcherr.Validation("campaign_manager", "update_config", orcherr.ErrTargetBelowAchieved)
		}
		c.Config.TargetTxCount24h = partial.TargetTxCount24h
	}
	if partial.Mode != "" {
		c.Config.Mode = partial.Mode
	}
	return nil
}

// AdjustParams, when recalc is true, re-derives per-bot daily caps and the
// interval band from the campaign's current config and applies them to
// every bot in the campaign, leaving each bot's other settings as they are
// (spec §4.8 adjust_params). With recalc false it does nothing.
func (m *Manager) AdjustParams(ctx context.Context, campaignID string, recalc bool) error {
	m.mu.RLock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.RUnlock()
		return orcherr.NotFound("campaign_manager", "adjust_params", orcherr.ErrCampaignNotFound)
	}
	cfg := c.Config
	ids := append([]string(nil), c.BotIDs...)
	m.mu.RUnlock()

	if !recalc {
		return nil
	}
	maxDailyTrades, maxDailyVolume, minInterval, maxInterval, _, _ := perBotParams(cfg)
	for _, id := range ids {
		b, ok := m.coordinator.GetBot(id)
		if !ok {
			continue
		}
		update := b.Config()
		update.MaxDailyTrades = maxDailyTrades
		update.MaxDailyVolume = maxDailyVolume
		update.MinIntervalMS = minInterval
		update.MaxIntervalMS = maxInterval
		_ = m.coordinator.UpdateBotConfig(id, update)
	}
	return nil
}

// AggregateStats rolls up metrics across every active campaign.
type AggregateStats struct {
	ActiveCampaigns int
	TotalVolume     decimal.Decimal
	TotalTxCount    int
}

// GetAggregateStats returns fleet-wide totals across active campaigns.
func (m *Manager) GetAggregateStats() AggregateStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := AggregateStats{TotalVolume: decimal.Zero}
	for _, c := range m.campaigns {
		if c.State != domain.CampaignActive {
			continue
		}
		stats.ActiveCampaigns++
		stats.TotalVolume = stats.TotalVolume.Add(c.Metrics.TotalVolume)
		stats.TotalTxCount += c.Metrics.TxCount
	}
	return stats
}

// ApplyRecommendation carries out an Auto-Adjuster recommendation: adds
// or removes bots from the campaign's swarm via the Coordinator.
func (m *Manager) ApplyRecommendation(ctx context.Context, rec domain.AdjustmentRecommendation) error {
	if rec.IsNoOp() {
		return nil
	}
	m.mu.Lock()
	c, ok := m.campaigns[rec.CampaignID]
	if !ok {
		m.mu.Unlock()
		return orcherr.NotFound("campaign_manager", "apply_recommendation", orcherr.ErrCampaignNotFound)
	}
	cfg := c.Config
	m.mu.Unlock()

	if rec.AddBots > 0 {
		_, _, minI, maxI, minS, maxS := perBotParams(cfg)
		base := domain.BotConfig{
			TargetToken:    cfg.TargetToken,
			Mode:           domain.ModeVolume,
			MinTradeSize:   minS,
			MaxTradeSize:   maxS,
			MinIntervalMS:  minI,
			MaxIntervalMS:  maxI,
			BuyProbability: 0.5,
			CampaignID:     rec.CampaignID,
			Enabled:        true,
		}
		newBots, err := m.coordinator.CreateBotSwarm(ctx, rec.AddBots, base, cfg.WalletTag, nil)
		if err != nil {
			return err
		}
		m.mu.Lock()
		for _, b := range newBots {
			c.BotIDs = append(c.BotIDs, b.ID)
		}
		m.mu.Unlock()
		for _, b := range newBots {
			_ = m.coordinator.Start(ctx, b.ID)
		}
	}

	if rec.RemoveBots > 0 {
		m.mu.Lock()
		n := rec.RemoveBots
		if n > len(c.BotIDs) {
			n = len(c.BotIDs)
		}
		toRemove := append([]string(nil), c.BotIDs[len(c.BotIDs)-n:]...)
		c.BotIDs = c.BotIDs[:len(c.BotIDs)-n]
		m.mu.Unlock()
		for _, id := range toRemove {
			_ = m.coordinator.Remove(ctx, id)
		}
	}

	m.publish(rec.CampaignID, events.KindAdjusterRecommend, nil, nil, nil, &events.AdjusterRecommendPayload{
		AddBots: rec.AddBots, RemoveBots: rec.RemoveBots,
		IntervalDeltaPct: rec.IntervalDeltaPct, SizeDeltaPct: rec.SizeDeltaPct, Reason: rec.Reason,
	})
	return nil
}

func (m *Manager) publish(source string, kind events.Kind, sc *events.StateChangedPayload, tr *events.TargetReachedPayload, md *events.MigrationDetectedPayload, ar *events.AdjusterRecommendPayload) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Kind: kind, Source: source, At: m.clock.Now(), StateChanged: sc, TargetReached: tr, MigrationDetected: md, AdjusterRecommend: ar})
}
