// Package adjuster implements the Auto-Adjuster closed-loop controller
// (spec §4.9): a per-campaign ticker that compares projected vs target
// volume and recommends adding/removing bots or retuning intervals,
// grounded on the teacher's BotRiskManager circuit-breaker/cooldown shape
// (internal/trading/bot_risk_manager.go) adapted from a risk gate to a
// volume-tracking controller.
package adjuster

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

var errInvalidTargets = errors.New("campaign has no target volume or duration set")

// Config carries the closed-loop controller's tunables (spec §4.9, §6).
type Config struct {
	TickInterval       time.Duration
	Tolerance          float64
	Gain               float64
	CoolDownSeconds    int
	MinBots            int
	MaxBots            int
	MaxBotDeltaPerTick int
	PendingCap         int

	// DegradedThreshold is the number of consecutive failed ticks after
	// which the adjuster marks itself degraded but keeps ticking (spec
	// §4.9 Failure semantics).
	DegradedThreshold int
}

// MetricsSnapshot returns the current aggregate metrics for a campaign.
type MetricsSnapshot func() *domain.CampaignMetrics

// BotCounter returns the campaign's current bot count.
type BotCounter func() int

// PendingGauge reports the Task Queue's current pending count, used to
// refuse adding bots while pending > adjuster_pending_cap (spec §5
// Back-pressure).
type PendingGauge func() int

// Adjuster runs one campaign's closed-loop control tick on demand (the
// Manager or a driving goroutine calls Tick at TickInterval).
type Adjuster struct {
	logger     *observability.Logger
	campaignID string
	config     Config
	cfgGetter  func() domain.CampaignConfig
	metrics    MetricsSnapshot
	botCount   BotCounter
	pending    PendingGauge
	clock      collaborators.TimeSource

	mu               sync.Mutex
	lastAdjustment   time.Time
	consecutiveFails int
	degraded         bool
	closed           bool
}

// New constructs an Adjuster for one campaign.
func New(logger *observability.Logger, campaignID string, config Config, cfgGetter func() domain.CampaignConfig, metrics MetricsSnapshot, botCount BotCounter, pending PendingGauge, clock collaborators.TimeSource) *Adjuster {
	if config.Tolerance <= 0 {
		config.Tolerance = 0.05
	}
	if config.Gain <= 0 {
		config.Gain = 0.5
	}
	if config.CoolDownSeconds <= 0 {
		config.CoolDownSeconds = 120
	}
	if config.MinBots <= 0 {
		config.MinBots = 1
	}
	if config.MaxBots <= 0 {
		config.MaxBots = 500
	}
	if config.MaxBotDeltaPerTick <= 0 {
		config.MaxBotDeltaPerTick = 10
	}
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = 5
	}
	if clock == nil {
		clock = collaborators.SystemTime{}
	}
	return &Adjuster{
		logger:    logger,
		campaignID: campaignID,
		config:    config,
		cfgGetter: cfgGetter,
		metrics:   metrics,
		botCount:  botCount,
		pending:   pending,
		clock:     clock,
	}
}

// IsDegraded reports whether consecutive tick failures have crossed the
// threshold (spec §4.9 Failure semantics). The campaign keeps running.
func (a *Adjuster) IsDegraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// Close marks the adjuster closed; further Tick calls are no-ops.
func (a *Adjuster) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// Tick runs one control iteration (spec §4.9 algorithm). Returns a no-op
// recommendation inside the deadband, during cool-down, or once closed.
func (a *Adjuster) Tick(ctx context.Context, now time.Time) (domain.AdjustmentRecommendation, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return domain.AdjustmentRecommendation{CampaignID: a.campaignID}, nil
	}
	inCoolDown := now.Sub(a.lastAdjustment) < time.Duration(a.config.CoolDownSeconds)*time.Second
	a.mu.Unlock()

	rec, err := a.computeRecommendation(now)
	if err != nil {
		a.mu.Lock()
		a.consecutiveFails++
		if a.consecutiveFails >= a.config.DegradedThreshold {
			a.degraded = true
		}
		a.mu.Unlock()
		a.logger.Error(ctx, "adjuster tick failed", err, map[string]interface{}{"campaign_id": a.campaignID})
		return domain.AdjustmentRecommendation{CampaignID: a.campaignID}, err
	}

	a.mu.Lock()
	a.consecutiveFails = 0
	a.degraded = false
	a.mu.Unlock()

	if rec.IsNoOp() {
		return rec, nil
	}
	if inCoolDown {
		return domain.AdjustmentRecommendation{CampaignID: a.campaignID}, nil
	}

	if rec.AddBots > 0 && a.pending != nil && a.pending() > a.config.PendingCap {
		return domain.AdjustmentRecommendation{CampaignID: a.campaignID, Reason: "pending cap reached; add suppressed"}, nil
	}

	a.mu.Lock()
	a.lastAdjustment = now
	a.mu.Unlock()
	return rec, nil
}

// computeRecommendation implements spec §4.9 steps 1-4, 6.
func (a *Adjuster) computeRecommendation(now time.Time) (domain.AdjustmentRecommendation, error) {
	cfg := a.cfgGetter()
	m := a.metrics()
	currentCount := a.botCount()

	if cfg.TargetVolume24h.IsZero() || cfg.DurationHours <= 0 {
		return domain.AdjustmentRecommendation{}, orcherr.InternalInvariant("adjuster", "tick", errInvalidTargets)
	}
	elapsed := m.ElapsedHours
	if elapsed <= 0 {
		elapsed = 1.0 / 60 // avoid divide-by-zero on the very first tick
	}

	currentVolume, _ := m.TotalVolume.Float64()
	targetVolume, _ := cfg.TargetVolume24h.Float64()
	projected := currentVolume * cfg.DurationHours / elapsed
	ratio := projected / targetVolume

	rec := domain.AdjustmentRecommendation{CampaignID: a.campaignID}

	if math.Abs(ratio-1) < a.config.Tolerance {
		rec.Reason = "within tolerance"
		return rec, nil
	}

	if ratio < 1 {
		desired := int(math.Ceil(float64(currentCount) * (1/ratio - 1) * a.config.Gain))
		if desired < 1 {
			desired = 1
		}
		if desired > a.config.MaxBotDeltaPerTick {
			desired = a.config.MaxBotDeltaPerTick
		}
		if currentCount+desired > a.config.MaxBots {
			rec.IntervalDeltaPct = -0.2
			rec.Reason = "under target, at max bots; tightening intervals"
		} else {
			rec.AddBots = desired
			rec.Reason = "under target; adding bots"
		}
		return rec, nil
	}

	desired := int(math.Ceil(float64(currentCount) * (1 - 1/ratio) * a.config.Gain))
	if desired < 1 {
		desired = 1
	}
	if desired > a.config.MaxBotDeltaPerTick {
		desired = a.config.MaxBotDeltaPerTick
	}
	if currentCount-desired < a.config.MinBots {
		rec.IntervalDeltaPct = 0.2
		rec.Reason = "over target, at min bots; widening intervals"
	} else {
		rec.RemoveBots = desired
		rec.Reason = "over target; removing bots"
	}
	return rec, nil
}
