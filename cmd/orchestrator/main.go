// Command orchestrator wires the core subsystems (Task Queue, Scheduler,
// Coordinator, Campaign Manager, Auto-Adjuster, Pool/Migration Monitor)
// into a running process, grounded on the teacher's cmd/trading-bots
// entrypoint shape: config.Load, a structured logger, graceful shutdown on
// SIGINT/SIGTERM, adapted from an HTTP-served trading-bots service into a
// headless scheduling process (the tool-call server surface itself is out
// of scope per spec.md §1).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solbotswarm/orchestrator/internal/adjuster"
	"github.com/solbotswarm/orchestrator/internal/campaign"
	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/collaborators/dex"
	"github.com/solbotswarm/orchestrator/internal/collaborators/kv"
	"github.com/solbotswarm/orchestrator/internal/collaborators/metricsink"
	"github.com/solbotswarm/orchestrator/internal/collaborators/poolstate"
	"github.com/solbotswarm/orchestrator/internal/collaborators/tradeledger"
	"github.com/solbotswarm/orchestrator/internal/collaborators/walletsvc"
	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/internal/coordinator"
	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/events"
	"github.com/solbotswarm/orchestrator/internal/monitor"
	"github.com/solbotswarm/orchestrator/internal/queue"
	"github.com/solbotswarm/orchestrator/pkg/database"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability)
	audit := observability.NewAuditLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// KV-backed durability for the Task Queue (spec §4.3, §6).
	var kvStore collaborators.KVStore
	var redisClient *database.RedisClient
	if cfg.Redis.URL != "" {
		rc, rerr := database.NewRedisClient(cfg.Redis, logger)
		if rerr != nil {
			logger.Warn(ctx, "redis unavailable, task queue running without durable kv", map[string]interface{}{"error": rerr.Error()})
		} else {
			redisClient = rc
			kvStore = kv.New(redisClient)
		}
	}

	// Trade ledger for append-only TradeRecord persistence (spec §3).
	var ledgerDB *database.DB
	var ledger *tradeledger.Ledger
	if cfg.Database.URL != "" {
		pdb, derr := database.NewPostgresDB(cfg.Database, logger)
		if derr != nil {
			logger.Warn(ctx, "postgres unavailable, trade ledger disabled", map[string]interface{}{"error": derr.Error()})
		} else {
			ledgerDB = pdb
			ledger = tradeledger.New(ledgerDB)
		}
	}

	if redisClient != nil || ledgerDB != nil {
		go storeHealthLoop(ctx, logger, cfg.Database.HealthCheckInterval, redisClient, ledgerDB)
	}

	clock := collaborators.SystemTime{}
	bus := events.NewBus(1024)
	go logEvents(ctx, logger, bus)

	q := queue.New(logger, queue.Config{
		Concurrency: cfg.Queue.Concurrency,
		Retry: queue.RetryPolicy{
			MaxAttempts:  cfg.Queue.DefaultRetryAttempts,
			InitialDelay: cfg.Queue.DefaultRetryBackoff,
			MaxDelay:     cfg.Queue.DefaultRetryCap,
			JitterPct:    cfg.Queue.DefaultRetryJitterPct,
		},
	}, kvStore, clock)

	keystore := walletsvc.NewKeystore()
	balances := walletsvc.NewRPCBalanceProvider("https://api.mainnet-beta.solana.com", keystore)
	executor := dex.NewJupiterExecutor(keystore)
	sink := metricsink.New()

	coord := coordinator.New(logger, coordinator.Config{MaxConcurrentBots: cfg.Bots.MaxConcurrent}, q, clock, nil, bus)
	manager := campaign.NewManager(logger, coord, clock, bus, cfg.Campaigns.MaxConcurrentCampaigns)
	recorder := &ledgeredTradeRecorder{manager: manager, ledger: ledger}

	if err := q.RegisterProcessor(domain.TaskSwap, coord.NewSwapProcessor(executor, sink, recorder)); err != nil {
		logger.Error(ctx, "register swap processor", err)
		os.Exit(1)
	}
	if err := q.RegisterProcessor(domain.TaskBalance, balanceProcessor(logger, balances)); err != nil {
		logger.Error(ctx, "register balance processor", err)
		os.Exit(1)
	}

	registry := poolstate.NewRegistry()
	poolReader := poolstate.NewReader("https://api.mainnet-beta.solana.com", registry)
	minLiquidity, _ := decimal.NewFromString(cfg.PoolMonitor.MinLiquidity)
	mon := monitor.New(logger, poolReader, bus, monitor.Config{
		PollingInterval:   cfg.PoolMonitor.PollingInterval,
		MinLiquidity:      minLiquidity,
		AutoRedirect:      cfg.PoolMonitor.AutoRedirect,
		CollapseThreshold: decimal.NewFromFloat(0.1),
	}, nil)

	if err := q.StartProcessing(ctx); err != nil {
		logger.Error(ctx, "start task queue", err)
		os.Exit(1)
	}
	mon.Start(ctx)

	audit.LogSystemEvent(ctx, "initialize", "orchestrator", map[string]interface{}{
		"bots_max_concurrent": cfg.Bots.MaxConcurrent,
		"queue_concurrency":   cfg.Queue.Concurrency,
	})
	bus.Publish(events.Event{Kind: events.KindInitialized, Source: "orchestrator", At: clock.Now()})

	adjusterFactory := func(campaignID string, cc domain.CampaignConfig, metricsSnapshot func() *domain.CampaignMetrics, botCount func() int) campaign.Adjuster {
		return adjuster.New(logger, campaignID, adjuster.Config{
			TickInterval:       cfg.Adjuster.TickInterval,
			Tolerance:          cfg.Adjuster.Tolerance,
			Gain:               cfg.Adjuster.Gain,
			CoolDownSeconds:    cfg.Adjuster.CoolDownSeconds,
			MinBots:            cfg.Adjuster.MinBots,
			MaxBots:            cfg.Adjuster.MaxBots,
			MaxBotDeltaPerTick: cfg.Adjuster.MaxBotDeltaPerTick,
			PendingCap:         cfg.Adjuster.PendingCap,
		}, func() domain.CampaignConfig { return cc }, metricsSnapshot, botCount, func() int { return q.QueueStats().Pending }, clock)
	}

	if token := os.Getenv("ORCHESTRATOR_DEMO_TOKEN"); token != "" {
		if err := launchDemoCampaign(ctx, logger, manager, adjusterFactory, token); err != nil {
			logger.Error(ctx, "demo campaign launch failed", err)
		}
	}

	<-ctx.Done()

	logger.Info(context.Background(), "shutdown started", nil)
	bus.Publish(events.Event{Kind: events.KindShutdownStarted, Source: "orchestrator", At: clock.Now()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := coord.Shutdown(shutdownCtx, cfg.ShutdownTimeout); err != nil {
		logger.Error(shutdownCtx, "coordinator shutdown", err)
	}
	mon.Stop()
	if err := q.Close(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "task queue close", err)
	}
	if ledgerDB != nil {
		if err := ledgerDB.Close(); err != nil {
			logger.Error(shutdownCtx, "trade ledger database close", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error(shutdownCtx, "task queue redis store close", err)
		}
	}

	bus.Publish(events.Event{Kind: events.KindShutdownComplete, Source: "orchestrator", At: clock.Now()})
	logger.Info(context.Background(), "shutdown complete", nil)
}

// ledgeredTradeRecorder persists a trade to the durable ledger before
// folding it into its campaign's in-memory aggregate metrics, so a restart
// can reconcile CampaignMetrics from the ledger even if the in-memory
// aggregate was lost (spec §3). Either dependency may be nil.
type ledgeredTradeRecorder struct {
	manager *campaign.Manager
	ledger  *tradeledger.Ledger
}

func (r *ledgeredTradeRecorder) RecordTrade(ctx context.Context, campaignID string, trade *domain.TradeRecord) error {
	if r.ledger != nil {
		if err := r.ledger.Record(ctx, trade); err != nil {
			return err
		}
	}
	if r.manager != nil {
		return r.manager.RecordTrade(ctx, campaignID, trade)
	}
	return nil
}

// storeHealthLoop periodically checks the durability stores behind the
// Task Queue and trade ledger, logging degraded latency without taking the
// process down, grounded on the teacher's own background health-monitoring
// goroutines (pkg/database).
func storeHealthLoop(ctx context.Context, logger *observability.Logger, interval time.Duration, redisClient *database.RedisClient, ledgerDB *database.DB) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if redisClient != nil {
				if err := redisClient.Health(ctx); err != nil {
					logger.Warn(ctx, "task queue redis store unhealthy", map[string]interface{}{"error": err.Error()})
				}
			}
			if ledgerDB != nil {
				if err := ledgerDB.Health(ctx); err != nil {
					logger.Warn(ctx, "trade ledger database unhealthy", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}
}

// balanceProcessor builds the queue.Processor for TaskBalance tasks: it
// resolves the wallet's current balance via the BalanceProvider collaborator
// and logs it. Balance tasks carry no trade outcome, so there is nothing to
// fold back into campaign metrics (spec §3 Task payload bag).
func balanceProcessor(logger *observability.Logger, balances collaborators.BalanceProvider) func(ctx context.Context, task *domain.Task) error {
	return func(ctx context.Context, task *domain.Task) error {
		mint, _ := task.Payload["token_mint"].(string)
		bal, err := balances.GetBalance(ctx, task.WalletID, mint)
		if err != nil {
			return err
		}
		logger.Info(ctx, "balance checked", map[string]interface{}{
			"wallet_id": task.WalletID,
			"mint":      mint,
			"balance":   bal.String(),
		})
		return nil
	}
}

// launchDemoCampaign creates and starts a small moderate-mode campaign
// against token, exercising the Campaign Manager, Coordinator swarm
// creation, and Auto-Adjuster end to end. It is gated behind an env var so
// an operator running the orchestrator as a library doesn't get bots
// materialized unasked (spec §6 exposed surface: create/start campaign).
func launchDemoCampaign(ctx context.Context, logger *observability.Logger, manager *campaign.Manager, factory campaign.AdjusterFactory, token string) error {
	c, err := manager.CreateCampaign(ctx, domain.CampaignConfig{
		Name:                "demo-" + token,
		TargetToken:         token,
		TargetVolume24h:     decimal.NewFromInt(1_000_000),
		TargetTxCount24h:    200,
		DurationHours:       24,
		BotCount:            len(coordinator.DefaultProfileMix) * 2,
		Mode:                domain.CampaignModerate,
		WalletFundingAmount: decimal.NewFromInt(1_000),
	})
	if err != nil {
		return err
	}
	if err := manager.Start(ctx, c.ID, factory); err != nil {
		return err
	}
	logger.Info(ctx, "demo campaign started", map[string]interface{}{"campaign_id": c.ID, "token": token})
	return nil
}

// logEvents drains the event bus and logs every owner-facing message until
// ctx is cancelled, standing in for the tool-call protocol front-end that
// would otherwise subscribe (out of scope per spec.md §1).
func logEvents(ctx context.Context, logger *observability.Logger, bus *events.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-bus.Subscribe():
			if !ok {
				return
			}
			logger.Info(context.Background(), "event", map[string]interface{}{
				"kind":   string(evt.Kind),
				"source": evt.Source,
				"at":     evt.At.Format(time.RFC3339),
			})
		}
	}
}
