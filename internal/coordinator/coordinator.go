// Package coordinator owns the fleet of Trading Bots, grounded on the
// teacher's TradingBotEngine registry (internal/trading/bot_engine.go):
// a map[id]*Bot guarded by a mutex, a running-count cap enforced at start
// time, and a graceful-shutdown pass bounded by a deadline.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solbotswarm/orchestrator/internal/antidetect"
	"github.com/solbotswarm/orchestrator/internal/bot"
	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/events"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
	"github.com/solbotswarm/orchestrator/internal/randomization"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

// WalletIDGenerator mints distinct wallet identities for swarm creation.
// The actual HD-derivation/key-vault mechanics are a collaborator's
// concern (spec §1); the coordinator only needs fresh ids.
type WalletIDGenerator interface {
	NextWalletID(ctx context.Context, tag string) (string, error)
}

// DefaultWalletIDGenerator mints uuid-based ids, used when no collaborator
// wallet service is wired (tests, local runs).
type DefaultWalletIDGenerator struct{}

func (DefaultWalletIDGenerator) NextWalletID(ctx context.Context, tag string) (string, error) {
	if tag == "" {
		return uuid.New().String(), nil
	}
	return fmt.Sprintf("%s-%s", tag, uuid.New().String()), nil
}

// ProfileWeight pairs a behavior profile with its selection weight for
// swarm creation (spec §4.6: "70% retail, 20% whale, 10% market-maker").
type ProfileWeight struct {
	Profile antidetect.ProfileName
	Weight  float64
}

// DefaultProfileMix is the distribution named in spec §4.6.
var DefaultProfileMix = []ProfileWeight{
	{antidetect.ProfileRetail, 0.7},
	{antidetect.ProfileWhale, 0.2},
	{antidetect.ProfileMarketMaker, 0.1},
}

// Config bounds fleet-wide concurrency.
type Config struct {
	MaxConcurrentBots int
}

// Coordinator exclusively owns all Bot objects (spec §3 Ownership).
type Coordinator struct {
	logger   *observability.Logger
	tradeLog *observability.TradeLogger
	config   Config
	queue    bot.Enqueuer
	clock    collaborators.TimeSource
	wallets  WalletIDGenerator
	bus      *events.Bus

	mu      sync.RWMutex
	bots    map[string]*bot.Bot
	order   []string // stable creation order for list_bots
	running int
}

// New constructs a Coordinator.
func New(logger *observability.Logger, config Config, q bot.Enqueuer, clock collaborators.TimeSource, wallets WalletIDGenerator, bus *events.Bus) *Coordinator {
	if config.MaxConcurrentBots <= 0 {
		config.MaxConcurrentBots = 200
	}
	if clock == nil {
		clock = collaborators.SystemTime{}
	}
	if wallets == nil {
		wallets = DefaultWalletIDGenerator{}
	}
	return &Coordinator{
		logger:   logger,
		tradeLog: observability.NewTradeLogger(logger),
		config:   config,
		queue:    q,
		clock:    clock,
		wallets:  wallets,
		bus:      bus,
		bots:     make(map[string]*bot.Bot),
	}
}

// CreateBot registers (but does not start) a single bot with the given
// config and behavior profile.
func (c *Coordinator) CreateBot(ctx context.Context, cfg domain.BotConfig, profile antidetect.ProfileName) (*bot.Bot, error) {
	p, ok := antidetect.Catalog[profile]
	if !ok {
		return nil, orcherr.Validation("coordinator", "create_bot", fmt.Errorf("unknown behavior profile %q", profile))
	}
	id := uuid.New().String()
	b := bot.New(id, cfg, p, c.logger, c.queue, randomization.New(), c.clock, c.bus)

	c.mu.Lock()
	c.bots[id] = b
	c.order = append(c.order, id)
	c.mu.Unlock()
	return b, nil
}

// CreateBotSwarm batch-creates count bots sharing a wallet tag, assigning
// a distinct wallet id per bot and selecting a behavior profile per bot
// from mix (spec §4.6).
func (c *Coordinator) CreateBotSwarm(ctx context.Context, count int, base domain.BotConfig, walletTag string, mix []ProfileWeight) ([]*bot.Bot, error) {
	if count <= 0 {
		return nil, orcherr.Validation("coordinator", "create_bot_swarm", fmt.Errorf("count must be positive"))
	}
	if len(mix) == 0 {
		mix = DefaultProfileMix
	}
	weights := make([]float64, len(mix))
	for i, m := range mix {
		weights[i] = m.Weight
	}
	rng := randomization.New()

	bots := make([]*bot.Bot, 0, count)
	for i := 0; i < count; i++ {
		walletID, err := c.wallets.NextWalletID(ctx, walletTag)
		if err != nil {
			return bots, orcherr.TransientExternal("coordinator", "create_bot_swarm", err)
		}
		idx := rng.WeightedChoice(weights)
		if idx < 0 {
			idx = 0
		}
		cfg := base
		cfg.WalletID = walletID

		b, err := c.CreateBot(ctx, cfg, mix[idx].Profile)
		if err != nil {
			return bots, err
		}
		bots = append(bots, b)
	}
	return bots, nil
}

// Start begins a bot's tick loop, enforcing max_concurrent_bots.
func (c *Coordinator) Start(ctx context.Context, botID string) error {
	c.mu.Lock()
	b, ok := c.bots[botID]
	if !ok {
		c.mu.Unlock()
		return orcherr.NotFound("coordinator", "start", orcherr.ErrBotNotFound)
	}
	if b.State() == domain.BotRunning {
		c.mu.Unlock()
		return nil
	}
	if c.running >= c.config.MaxConcurrentBots {
		c.mu.Unlock()
		return orcherr.CapacityExceeded("coordinator", "start", orcherr.ErrMaxConcurrentBots)
	}
	c.running++
	c.mu.Unlock()

	if err := b.Start(ctx); err != nil {
		c.mu.Lock()
		c.running--
		c.mu.Unlock()
		return err
	}
	return nil
}

// Stop terminally stops a bot and releases its running slot.
func (c *Coordinator) Stop(ctx context.Context, botID string) error {
	c.mu.RLock()
	b, ok := c.bots[botID]
	c.mu.RUnlock()
	if !ok {
		return orcherr.NotFound("coordinator", "stop", orcherr.ErrBotNotFound)
	}
	wasRunning := b.State() == domain.BotRunning
	if err := b.Stop(ctx); err != nil {
		return err
	}
	if wasRunning {
		c.mu.Lock()
		c.running--
		c.mu.Unlock()
	}
	return nil
}

// Pause pauses a bot, releasing its running slot (a paused bot does not
// count against max_concurrent_bots).
func (c *Coordinator) Pause(ctx context.Context, botID string) error {
	c.mu.RLock()
	b, ok := c.bots[botID]
	c.mu.RUnlock()
	if !ok {
		return orcherr.NotFound("coordinator", "pause", orcherr.ErrBotNotFound)
	}
	if err := b.Pause(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.running--
	c.mu.Unlock()
	return nil
}

// Remove stops and forgets a bot entirely.
func (c *Coordinator) Remove(ctx context.Context, botID string) error {
	c.mu.Lock()
	b, ok := c.bots[botID]
	if !ok {
		c.mu.Unlock()
		return orcherr.NotFound("coordinator", "remove", orcherr.ErrBotNotFound)
	}
	wasRunning := b.State() == domain.BotRunning
	delete(c.bots, botID)
	for i, id := range c.order {
		if id == botID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if wasRunning {
		c.running--
	}
	c.mu.Unlock()
	return b.Stop(ctx)
}

// UpdateBotConfig applies mutable config changes to an existing bot.
func (c *Coordinator) UpdateBotConfig(botID string, update domain.BotConfig) error {
	c.mu.RLock()
	b, ok := c.bots[botID]
	c.mu.RUnlock()
	if !ok {
		return orcherr.NotFound("coordinator", "update_bot_config", orcherr.ErrBotNotFound)
	}
	b.UpdateConfig(update)
	return nil
}

// GetBotStatus returns a bot's current observable status.
func (c *Coordinator) GetBotStatus(botID string) (domain.BotStatus, error) {
	c.mu.RLock()
	b, ok := c.bots[botID]
	c.mu.RUnlock()
	if !ok {
		return domain.BotStatus{}, orcherr.NotFound("coordinator", "get_bot_status", orcherr.ErrBotNotFound)
	}
	return b.Status(), nil
}

// GetBot returns the live bot handle, used by the swap processor to
// record trade outcomes.
func (c *Coordinator) GetBot(botID string) (*bot.Bot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bots[botID]
	return b, ok
}

// Filter narrows ListBots by state and/or campaign. Zero values mean
// "don't filter on this field".
type Filter struct {
	State      domain.BotState
	CampaignID string
}

// ListBots returns status snapshots for bots matching filter, in creation
// order.
func (c *Coordinator) ListBots(filter Filter) []domain.BotStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.BotStatus, 0, len(c.order))
	for _, id := range c.order {
		b := c.bots[id]
		st := b.Status()
		if filter.State != "" && st.State != filter.State {
			continue
		}
		if filter.CampaignID != "" && st.CampaignID != filter.CampaignID {
			continue
		}
		out = append(out, st)
	}
	return out
}

// StartAll starts every non-terminal bot, honoring max_concurrent_bots;
// bots beyond the cap are skipped and reported back.
func (c *Coordinator) StartAll(ctx context.Context) (started int, skipped []string) {
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()
	for _, id := range ids {
		if err := c.Start(ctx, id); err != nil {
			skipped = append(skipped, id)
			continue
		}
		started++
	}
	return started, skipped
}

// StopAll stops every bot.
func (c *Coordinator) StopAll(ctx context.Context) {
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()
	for _, id := range ids {
		_ = c.Stop(ctx, id)
	}
}

// RunningCount reports how many bots are currently running.
func (c *Coordinator) RunningCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Shutdown signals every bot to stop and waits up to timeout. If the
// deadline passes first, it logs a warning, resets the running count to
// zero, and returns an InternalInvariant error; bots that have not yet
// finished stopping are not forcibly halted, and their Stop calls keep
// running in the background.
func (c *Coordinator) Shutdown(ctx context.Context, timeout time.Duration) error {
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		c.StopAll(ctx)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		c.logger.Warn(ctx, "coordinator shutdown deadline exceeded; stragglers still stopping", map[string]interface{}{
			"bot_count": len(ids),
			"timeout":   timeout.String(),
		})
		c.mu.Lock()
		c.running = 0
		c.mu.Unlock()
		return orcherr.InternalInvariant("coordinator", "shutdown", fmt.Errorf("shutdown exceeded %s deadline", timeout))
	}
}

// TradeRecorder folds a trade outcome into the aggregate metrics of the
// campaign that owns it; *campaign.Manager satisfies this. Declared here,
// narrowed to the one method the swap processor needs, so the coordinator
// does not import the campaign package back (campaign already depends on
// coordinator for swarm creation).
type TradeRecorder interface {
	RecordTrade(ctx context.Context, campaignID string, trade *domain.TradeRecord) error
}

// NewSwapProcessor builds the queue.Processor that executes swap tasks
// against a TradingExecutor, folds the outcome back into the owning bot's
// counters (spec §4.5 step 6: "on worker callback update counters"), and
// attributes it to the owning campaign's aggregate metrics (spec §3
// invariant: every trade outcome attributed to a campaign updates that
// campaign's metrics exactly once). campaigns may be nil for bots created
// outside a campaign.
func (c *Coordinator) NewSwapProcessor(executor collaborators.TradingExecutor, metrics collaborators.MetricsSink, campaigns TradeRecorder) func(ctx context.Context, task *domain.Task) error {
	return func(ctx context.Context, task *domain.Task) error {
		b, ok := c.GetBot(task.BotID)
		if !ok {
			return orcherr.NotFound("coordinator", "swap_processor", orcherr.ErrBotNotFound)
		}
		cfg := b.Config()

		side, _ := task.Payload["side"].(string)
		amountStr, _ := task.Payload["amount"].(string)
		memo, _ := task.Payload["memo"].(string)
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return orcherr.Validation("coordinator", "swap_processor", fmt.Errorf("invalid task amount %q: %w", amountStr, err))
		}

		req := collaborators.SwapRequest{
			WalletID:    task.WalletID,
			TokenMint:   cfg.TargetToken,
			Side:        side,
			Amount:      amount,
			SlippageBps: 100,
			Memo:        memo,
		}
		result, execErr := executor.ExecuteSwap(ctx, req)
		now := c.clock.Now()

		record := domain.NewTradeRecord()
		record.BotID = task.BotID
		record.WalletID = task.WalletID
		record.CampaignID = task.CampaignID
		record.TokenMint = cfg.TargetToken
		record.Side = domain.TradeSide(side)
		record.Amount = amount
		record.Timestamp = now

		if execErr != nil {
			record.Success = false
			record.ErrorMessage = execErr.Error()
			b.RecordOutcome(now, false, decimal.Zero, execErr.Error())
			if metrics != nil {
				_ = metrics.RecordTrade(ctx, record)
			}
			c.recordToCampaign(ctx, campaigns, record)
			c.tradeLog.LogTradeOutcome(ctx, task.BotID, task.CampaignID, task.WalletID, side, amount, false, execErr)
			return classifySwapError(execErr)
		}

		record.Success = true
		record.Signature = result.Signature
		record.Fees = result.Fee
		b.RecordOutcome(now, true, amount, "")
		c.tradeLog.LogTradeOutcome(ctx, task.BotID, task.CampaignID, task.WalletID, side, amount, true, nil)
		if metrics != nil {
			_ = metrics.RecordTrade(ctx, record)
		}
		c.recordToCampaign(ctx, campaigns, record)
		return nil
	}
}

// recordToCampaign attributes record to its owning campaign, if any and if
// a TradeRecorder was wired in. Failures are logged, not propagated: a
// campaign bookkeeping error must not make an already-executed swap retry.
func (c *Coordinator) recordToCampaign(ctx context.Context, campaigns TradeRecorder, record *domain.TradeRecord) {
	if campaigns == nil || record.CampaignID == "" {
		return
	}
	if err := campaigns.RecordTrade(ctx, record.CampaignID, record); err != nil {
		c.logger.Warn(ctx, "campaign trade attribution failed", map[string]interface{}{
			"campaign_id": record.CampaignID,
			"bot_id":      record.BotID,
			"error":       err.Error(),
		})
	}
}

// classifySwapError maps collaborator failure sentinels to orcherr kinds
// per spec §7.
func classifySwapError(err error) error {
	switch {
	case isAny(err, collaborators.ErrRateLimited, collaborators.ErrConfirmationTimeout, collaborators.ErrBlockhashExpired, collaborators.ErrNetworkError):
		return orcherr.TransientExternal("swap", "execute", err)
	case isAny(err, collaborators.ErrUnauthorized, collaborators.ErrNoRoute, collaborators.ErrSlippageExceeded,
		collaborators.ErrInsufficientLiquidity, collaborators.ErrSimulationFailed, collaborators.ErrWalletNotFound):
		return orcherr.PermanentExternal("swap", "execute", err)
	default:
		return orcherr.TransientExternal("swap", "execute", err)
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
