package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BotMode biases a bot's buy/sell draw (spec §4.5 step 3).
type BotMode string

const (
	ModeVolume     BotMode = "volume"
	ModeMarketMake BotMode = "market-make"
	ModeAccumulate BotMode = "accumulate"
	ModeDistribute BotMode = "distribute"
)

// BotConfig is the immutable-identity / mutable-parameters configuration of
// a Trading Bot. WalletID and TargetToken are fixed at creation; the rest
// is mutable via UpdateBotConfig.
type BotConfig struct {
	WalletID       string          `json:"wallet_id"`
	TargetToken    string          `json:"target_token"`
	Mode           BotMode         `json:"mode"`
	MinTradeSize   decimal.Decimal `json:"min_trade_size"`
	MaxTradeSize   decimal.Decimal `json:"max_trade_size"`
	MinIntervalMS  int64           `json:"min_interval_ms"`
	MaxIntervalMS  int64           `json:"max_interval_ms"`
	BuyProbability float64         `json:"buy_probability"`
	MaxDailyTrades int             `json:"max_daily_trades"`
	MaxDailyVolume decimal.Decimal `json:"max_daily_volume"`
	Profile        string          `json:"profile"`
	CampaignID     string          `json:"campaign_id,omitempty"`
	Enabled        bool            `json:"enabled"`
}

// BotState is the Trading Bot's state-machine position (spec §4.5).
type BotState string

const (
	BotIdle    BotState = "idle"
	BotRunning BotState = "running"
	BotPaused  BotState = "paused"
	BotStopped BotState = "stopped"
	BotError   BotState = "error"
)

// BotStatus is the mutable, observable half of a bot: lifetime counters,
// daily counters, and the current state-machine position. Only the daily
// counters (TradesToday, VolumeToday) reset, at the first rollover check
// after midnight UTC.
type BotStatus struct {
	State            BotState        `json:"state"`
	TradesCompleted  int             `json:"trades_completed"`
	VolumeGenerated  decimal.Decimal `json:"volume_generated"`
	TradesToday      int             `json:"trades_today"`
	VolumeToday      decimal.Decimal `json:"volume_today"`
	DayStart         time.Time       `json:"day_start"`
	Errors           []string        `json:"errors,omitempty"`
	LastActive       *time.Time      `json:"last_active,omitempty"`
	WalletID         string          `json:"wallet_id"`
	CampaignID       string          `json:"campaign_id,omitempty"`
}

// NewBotStatus creates the initial status for a freshly created bot.
func NewBotStatus(walletID, campaignID string, now time.Time) *BotStatus {
	return &BotStatus{
		State:      BotIdle,
		WalletID:   walletID,
		CampaignID: campaignID,
		DayStart:   dayStart(now),
	}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RolloverIfNewDay resets the daily counters if now has crossed midnight
// UTC since DayStart. Returns true if it rolled over.
func (s *BotStatus) RolloverIfNewDay(now time.Time) bool {
	ds := dayStart(now)
	if ds.After(s.DayStart) {
		s.DayStart = ds
		s.TradesToday = 0
		s.VolumeToday = decimal.Zero
		return true
	}
	return false
}
