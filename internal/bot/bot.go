// Package bot implements the per-bot autonomous trading state machine
// (spec §4.5), grounded on the teacher's TradingBotEngine/TradingBot
// (internal/trading/bot_engine.go): idle/running/paused/stopped/error
// states, a tick goroutine gated by a stop channel, and mutex-guarded
// runtime counters.
package bot

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solbotswarm/orchestrator/internal/antidetect"
	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/events"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
	"github.com/solbotswarm/orchestrator/internal/queue"
	"github.com/solbotswarm/orchestrator/internal/randomization"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

// Enqueuer is the slice of the Task Queue a bot needs to submit swap tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *domain.Task) (string, error)
}

var _ Enqueuer = (*queue.Queue)(nil)

const (
	maxRecentErrors = 20
	minSleep        = 50 * time.Millisecond
)

// Bot is one autonomous trading state machine.
type Bot struct {
	ID string

	logger      *observability.Logger
	queue       Enqueuer
	clock       collaborators.TimeSource
	rng         *randomization.Engine
	heuristics  *antidetect.Heuristics
	bus         *events.Bus

	mu     sync.Mutex
	config domain.BotConfig
	status domain.BotStatus

	runState int32 // atomic mirror of status.State for lock-free reads from Coordinator
	stopCh   chan struct{}
	timer    *time.Timer
	wg       sync.WaitGroup

	lastSide domain.TradeSide // last side drawn in ModeMarketMake, for alternation
}

const (
	stateIdle int32 = iota
	stateRunning
	statePaused
	stateStopped
	stateError
)

func toRunState(s domain.BotState) int32 {
	switch s {
	case domain.BotRunning:
		return stateRunning
	case domain.BotPaused:
		return statePaused
	case domain.BotStopped:
		return stateStopped
	case domain.BotError:
		return stateError
	default:
		return stateIdle
	}
}

// New constructs a Bot in the idle state.
func New(id string, config domain.BotConfig, profile antidetect.BehaviorProfile, logger *observability.Logger, q Enqueuer, rng *randomization.Engine, clock collaborators.TimeSource, bus *events.Bus) *Bot {
	if clock == nil {
		clock = collaborators.SystemTime{}
	}
	if rng == nil {
		rng = randomization.New()
	}
	now := clock.Now()
	b := &Bot{
		ID:         id,
		logger:     logger,
		queue:      q,
		clock:      clock,
		rng:        rng,
		heuristics: antidetect.NewHeuristics(rng, profile, maxRecentErrors, 3),
		bus:        bus,
		config:     config,
		status:     *domain.NewBotStatus(config.WalletID, config.CampaignID, now),
	}
	return b
}

// State returns the current state-machine position without blocking on
// the bot's own tick.
func (b *Bot) State() domain.BotState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status.State
}

// Status returns a copy of the bot's observable status.
func (b *Bot) Status() domain.BotStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Config returns a copy of the bot's current configuration.
func (b *Bot) Config() domain.BotConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

// Start transitions idle/paused -> running and starts the tick loop.
// Returns StateConflict if the bot is stopped or in error.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	switch b.status.State {
	case domain.BotRunning:
		b.mu.Unlock()
		return nil
	case domain.BotStopped:
		b.mu.Unlock()
		return orcherr.StateConflict("bot", "start", fmt.Errorf("bot %s is stopped", b.ID))
	case domain.BotError:
		b.mu.Unlock()
		return orcherr.StateConflict("bot", "start", fmt.Errorf("bot %s is in error state; reconfigure first", b.ID))
	}
	from := b.status.State
	b.status.State = domain.BotRunning
	atomic.StoreInt32(&b.runState, stateRunning)
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	b.publish(events.KindStateChanged, &events.StateChangedPayload{From: string(from), To: string(domain.BotRunning)})

	b.wg.Add(1)
	go b.tickLoop(ctx)
	return nil
}

// Pause finishes any in-flight tick scheduling and stops emitting new
// ticks without terminating the bot.
func (b *Bot) Pause(ctx context.Context) error {
	b.mu.Lock()
	if b.status.State != domain.BotRunning {
		b.mu.Unlock()
		return orcherr.StateConflict("bot", "pause", fmt.Errorf("bot %s is not running", b.ID))
	}
	b.status.State = domain.BotPaused
	atomic.StoreInt32(&b.runState, statePaused)
	stopCh := b.stopCh
	b.mu.Unlock()

	close(stopCh)
	b.wg.Wait()
	b.publish(events.KindStateChanged, &events.StateChangedPayload{From: string(domain.BotRunning), To: string(domain.BotPaused)})
	return nil
}

// Stop terminally halts the bot. Idempotent.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.status.State == domain.BotStopped {
		b.mu.Unlock()
		return nil
	}
	from := b.status.State
	running := from == domain.BotRunning
	b.status.State = domain.BotStopped
	atomic.StoreInt32(&b.runState, stateStopped)
	stopCh := b.stopCh
	b.mu.Unlock()

	if running {
		close(stopCh)
		b.wg.Wait()
	}
	b.publish(events.KindStateChanged, &events.StateChangedPayload{From: string(from), To: string(domain.BotStopped)})
	return nil
}

// UpdateConfig applies mutable parameter changes; wallet_id and
// target_token are part of the bot's fixed identity and not changed here.
func (b *Bot) UpdateConfig(update domain.BotConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	update.WalletID = b.config.WalletID
	update.TargetToken = b.config.TargetToken
	b.config = update
	if b.status.State == domain.BotError {
		b.status.State = domain.BotIdle
		atomic.StoreInt32(&b.runState, stateIdle)
	}
}

func (b *Bot) publish(kind events.Kind, payload *events.StateChangedPayload) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.Event{Kind: kind, Source: b.ID, At: b.clock.Now(), StateChanged: payload})
}

// tickLoop drives the per-bot scheduling loop while running (spec §4.5).
func (b *Bot) tickLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		delay := b.computeNextDelay()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-b.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if err := b.doTick(ctx); err != nil {
				b.enterError(ctx, err)
				return
			}
		}
	}
}

func (b *Bot) enterError(ctx context.Context, err error) {
	b.mu.Lock()
	from := b.status.State
	b.status.State = domain.BotError
	atomic.StoreInt32(&b.runState, stateError)
	b.mu.Unlock()
	b.logger.Error(ctx, "bot tick construction failed", err, map[string]interface{}{"bot_id": b.ID})
	b.publish(events.KindStateChanged, &events.StateChangedPayload{From: string(from), To: string(domain.BotError)})
}

// computeNextDelay picks how long to sleep before the next tick attempt:
// until midnight UTC when a daily cap is reached, otherwise a fresh
// interval draw adjusted by the anti-detection heuristics.
func (b *Bot) computeNextDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	b.status.RolloverIfNewDay(now)
	if b.dailyCapExceededLocked() {
		return timeUntilMidnightUTC(now)
	}
	base := b.rng.NextInterval(b.config.MinIntervalMS, b.config.MaxIntervalMS, randomization.TimingPoisson)
	adjusted := b.heuristics.AdjustedInterval(base, now)
	d := time.Duration(adjusted) * time.Millisecond
	if d < minSleep {
		d = minSleep
	}
	return d
}

func (b *Bot) dailyCapExceededLocked() bool {
	if b.config.MaxDailyTrades > 0 && b.status.TradesToday >= b.config.MaxDailyTrades {
		return true
	}
	if !b.config.MaxDailyVolume.IsZero() && b.status.VolumeToday.GreaterThanOrEqual(b.config.MaxDailyVolume) {
		return true
	}
	return false
}

func timeUntilMidnightUTC(now time.Time) time.Duration {
	y, m, d := now.UTC().Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}

// doTick performs one iteration: draw side/size, build and enqueue a swap
// task. Errors here (not trade-level failures reported later via
// RecordOutcome) move the bot to the error state.
func (b *Bot) doTick(ctx context.Context) error {
	b.mu.Lock()
	if b.status.State != domain.BotRunning {
		b.mu.Unlock()
		return nil
	}
	cfg := b.config
	now := b.clock.Now()
	if b.dailyCapExceededLocked() {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	side := b.drawSide(cfg)
	size := b.drawSize(cfg, now)
	memo := b.heuristics.Memo()

	task := domain.NewTask(domain.TaskSwap, domain.PriorityNormal, map[string]interface{}{
		"token_mint": cfg.TargetToken,
		"side":       string(side),
		"amount":     size.String(),
		"memo":       memo,
	})
	task.WalletID = cfg.WalletID
	task.BotID = b.ID
	task.CampaignID = cfg.CampaignID

	if _, err := b.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue swap task: %w", err)
	}

	now2 := b.clock.Now()
	b.mu.Lock()
	b.status.LastActive = &now2
	b.mu.Unlock()
	return nil
}

func (b *Bot) drawSide(cfg domain.BotConfig) domain.TradeSide {
	p := cfg.BuyProbability
	switch cfg.Mode {
	case domain.ModeAccumulate:
		p = math.Min(1, p+0.25)
	case domain.ModeDistribute:
		p = math.Max(0, p-0.25)
	case domain.ModeMarketMake:
		p = b.marketMakeBuyProbability()
	}

	side := domain.SideSell
	if b.rng.Coin(p) {
		side = domain.SideBuy
	}
	if cfg.Mode == domain.ModeMarketMake {
		b.mu.Lock()
		b.lastSide = side
		b.mu.Unlock()
	}
	return side
}

// marketMakeBuyProbability biases the draw away from the last side the bot
// took, so ModeMarketMake alternates buy/sell with small random deviation
// (spec §4.5 step 3) instead of drawing i.i.d. around 0.5.
func (b *Bot) marketMakeBuyProbability() float64 {
	b.mu.Lock()
	last := b.lastSide
	b.mu.Unlock()

	switch last {
	case domain.SideBuy:
		return b.rng.Jitter(0.15, 0.1) // last was a buy, favor selling next
	case domain.SideSell:
		return b.rng.Jitter(0.85, 0.1) // last was a sell, favor buying next
	default:
		return b.rng.Jitter(0.5, 0.1) // no prior draw this session
	}
}

func (b *Bot) drawSize(cfg domain.BotConfig, now time.Time) decimal.Decimal {
	minI := cfg.MinTradeSize.IntPart()
	maxI := cfg.MaxTradeSize.IntPart()
	if maxI <= minI {
		maxI = minI + 1
	}
	raw := b.rng.NextSize(minI, maxI, randomization.SizeSkewedLow)
	adjusted := b.heuristics.AdjustedSize(raw, now)
	return decimal.NewFromInt(adjusted)
}

// RecordOutcome folds a completed (or failed) swap's result into the
// bot's counters and anti-detection error-streak tracking. Trade-level
// failures never move the bot to the error state (spec §4.5).
func (b *Bot) RecordOutcome(now time.Time, success bool, volume decimal.Decimal, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.RolloverIfNewDay(now)
	if success {
		b.status.TradesCompleted++
		b.status.VolumeGenerated = b.status.VolumeGenerated.Add(volume)
		b.status.TradesToday++
		b.status.VolumeToday = b.status.VolumeToday.Add(volume)
	} else if errMsg != "" {
		b.status.Errors = append(b.status.Errors, errMsg)
		if len(b.status.Errors) > maxRecentErrors {
			b.status.Errors = b.status.Errors[len(b.status.Errors)-maxRecentErrors:]
		}
	}
	b.heuristics.RecordOutcome(success, now)
}
