package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignState is the Volume Campaign's lifecycle position (spec §3).
type CampaignState string

const (
	CampaignDraft     CampaignState = "draft"
	CampaignActive    CampaignState = "active"
	CampaignPaused    CampaignState = "paused"
	CampaignCompleted CampaignState = "completed"
	CampaignFailed    CampaignState = "failed"
)

// CampaignMode picks the interval/size bands a Campaign Manager derives
// per-bot parameters from (spec §4.8).
type CampaignMode string

const (
	CampaignAggressive CampaignMode = "aggressive"
	CampaignModerate   CampaignMode = "moderate"
	CampaignStealth    CampaignMode = "stealth"
)

// CampaignConfig is supplied at creation and mutable via the Manager.
type CampaignConfig struct {
	Name                string          `json:"name"`
	TargetToken         string          `json:"target_token"`
	TargetVolume24h     decimal.Decimal `json:"target_volume_24h"`
	TargetTxCount24h    int             `json:"target_tx_count_24h"`
	DurationHours       float64         `json:"duration_hours"`
	BotCount            int             `json:"bot_count"`
	Mode                CampaignMode    `json:"mode"`
	WalletTag           string          `json:"wallet_tag,omitempty"`
	WalletFundingAmount decimal.Decimal `json:"wallet_funding_amount"`
}

// TargetCategory identifies which threshold a target-reached event fired
// for (spec §4.7 "fire once per category").
type TargetCategory string

const (
	TargetVolume       TargetCategory = "volume"
	TargetTransactions TargetCategory = "transactions"
	TargetTime         TargetCategory = "time"
)

// CampaignMetrics is the aggregate state updated on every trade outcome.
type CampaignMetrics struct {
	TotalVolume     decimal.Decimal `json:"total_volume"`
	BuyVolume       decimal.Decimal `json:"buy_volume"`
	SellVolume      decimal.Decimal `json:"sell_volume"`
	TxCount         int             `json:"tx_count"`
	UniqueWallets   int             `json:"unique_wallets"`
	AvgTradeSize    decimal.Decimal `json:"avg_trade_size"`
	SuccessRate     float64         `json:"success_rate"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	ElapsedHours    float64         `json:"elapsed_hours"`
	ProgressPercent float64         `json:"progress_percent"`

	successCount int
	failCount    int
	walletSeen   map[string]struct{}
	// reachedCategories tracks which TargetCategory values have already
	// fired, so target-reached fires exactly once per category even if a
	// later adjustment retracts the counter (spec §4.7).
	reachedCategories map[TargetCategory]bool
	// seenTradeIDs makes RecordTrade idempotent on trade id (spec invariant 6).
	seenTradeIDs map[string]bool
}

// NewCampaignMetrics returns a zeroed metrics block ready for recording.
func NewCampaignMetrics() *CampaignMetrics {
	return &CampaignMetrics{
		TotalVolume:       decimal.Zero,
		BuyVolume:         decimal.Zero,
		SellVolume:        decimal.Zero,
		TotalFees:         decimal.Zero,
		AvgTradeSize:      decimal.Zero,
		walletSeen:        make(map[string]struct{}),
		reachedCategories: make(map[TargetCategory]bool),
		seenTradeIDs:      make(map[string]bool),
	}
}

// AlreadySeen reports whether tradeID has already been folded in, for the
// idempotent-on-trade-id invariant.
func (m *CampaignMetrics) AlreadySeen(tradeID string) bool {
	if m.seenTradeIDs == nil {
		m.seenTradeIDs = make(map[string]bool)
	}
	return m.seenTradeIDs[tradeID]
}

// MarkSeen records tradeID as folded in.
func (m *CampaignMetrics) MarkSeen(tradeID string) {
	if m.seenTradeIDs == nil {
		m.seenTradeIDs = make(map[string]bool)
	}
	m.seenTradeIDs[tradeID] = true
}

// MarkWallet adds a wallet to the unique-wallet set and refreshes the count.
func (m *CampaignMetrics) MarkWallet(walletID string) {
	if m.walletSeen == nil {
		m.walletSeen = make(map[string]struct{})
	}
	m.walletSeen[walletID] = struct{}{}
	m.UniqueWallets = len(m.walletSeen)
}

// MarkReachedOnce marks category as having fired a target-reached event and
// reports whether this call was the first to do so: true the first time,
// false if it had already fired (so callers get a fire-once gate in one
// call).
func (m *CampaignMetrics) MarkReachedOnce(category TargetCategory) bool {
	if m.reachedCategories == nil {
		m.reachedCategories = make(map[TargetCategory]bool)
	}
	if m.reachedCategories[category] {
		return false
	}
	m.reachedCategories[category] = true
	return true
}

// RecalculateSuccessRate refreshes SuccessRate from the internal counters.
func (m *CampaignMetrics) RecalculateSuccessRate() {
	total := m.successCount + m.failCount
	if total == 0 {
		m.SuccessRate = 0
		return
	}
	m.SuccessRate = float64(m.successCount) / float64(total)
}

// AddOutcome increments the internal success/fail counters used by
// RecalculateSuccessRate.
func (m *CampaignMetrics) AddOutcome(success bool) {
	if success {
		m.successCount++
	} else {
		m.failCount++
	}
}

// Campaign holds config, state, bot membership, and metrics. Mutation
// methods live in internal/campaign; internal/adjuster works from the
// CampaignConfig and CampaignMetrics types in this package, so neither of
// the two packages imports the other.
type Campaign struct {
	ID        string          `json:"id"`
	Config    CampaignConfig  `json:"config"`
	State     CampaignState   `json:"state"`
	BotIDs    []string        `json:"bot_ids"`
	Metrics   *CampaignMetrics `json:"metrics"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

// AdjustmentRecommendation is emitted by the Auto-Adjuster each tick and
// consumed by the Campaign Manager (spec §4.9).
type AdjustmentRecommendation struct {
	CampaignID       string  `json:"campaign_id"`
	AddBots          int     `json:"add_bots"`
	RemoveBots       int     `json:"remove_bots"`
	IntervalDeltaPct float64 `json:"interval_delta_pct"`
	SizeDeltaPct     float64 `json:"size_delta_pct"`
	Reason           string  `json:"reason"`
}

// IsNoOp reports whether the recommendation carries no action (deadband
// tick, spec §4.9 step 2).
func (r AdjustmentRecommendation) IsNoOp() bool {
	return r.AddBots == 0 && r.RemoveBots == 0 && r.IntervalDeltaPct == 0 && r.SizeDeltaPct == 0
}
