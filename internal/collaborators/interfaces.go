// Package collaborators declares the thin contracts the orchestrator core
// consumes from collaborators it does not own: wallet signing, trade
// execution, balance lookups, durable KV storage, time, metrics export, and
// pool state. Concrete adapters live in the collaborators/* subpackages,
// adapted from the teacher's Solana web3 clients; tests use in-memory fakes
// implementing these same interfaces.
package collaborators

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// WalletSigner signs transactions and resolves wallet addresses. May fail
// with ErrUnauthorized, ErrRateLimited, or ErrWalletNotFound.
type WalletSigner interface {
	SignTransaction(ctx context.Context, walletID string, txBytes []byte) ([]byte, error)
	GetAddress(ctx context.Context, walletID string) (string, error)
}

// SwapRequest is the normalized input to TradingExecutor.ExecuteSwap.
type SwapRequest struct {
	WalletID      string
	TokenMint     string
	Side          string // "buy" or "sell"
	Amount        decimal.Decimal
	SlippageBps   int
	PriorityFeeLamports int64
	Memo          string
}

// SwapResult is the normalized output of a successful swap.
type SwapResult struct {
	Signature string
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
	Fee       decimal.Decimal
}

// TradingExecutor executes swaps against whatever DEX route it resolves.
// Failure modes: ErrNoRoute, ErrSlippageExceeded, ErrInsufficientLiquidity,
// ErrSimulationFailed, ErrConfirmationTimeout.
type TradingExecutor interface {
	ExecuteSwap(ctx context.Context, req SwapRequest) (*SwapResult, error)
}

// BalanceProvider reads wallet balances. An empty mint reads native SOL.
type BalanceProvider interface {
	GetBalance(ctx context.Context, walletID string, tokenMint string) (decimal.Decimal, error)
	GetAllBalances(ctx context.Context, walletID string) (map[string]decimal.Decimal, error)
}

// KVStore is namespaced byte-string persistence with atomic compare-and-swap,
// used by the Task Queue for durability across process restarts.
type KVStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	// CAS sets key to newValue only if the current value equals oldValue
	// (oldValue nil/absent means "key must not currently exist"). Reports
	// whether the swap took effect.
	CAS(ctx context.Context, namespace, key string, oldValue, newValue []byte) (bool, error)
}

// TimeSource is injected everywhere the core needs "now", so tests can
// control wall-clock and monotonic time deterministically.
type TimeSource interface {
	Now() time.Time
}

// SystemTime is the default TimeSource backed by the real clock.
type SystemTime struct{}

func (SystemTime) Now() time.Time { return time.Now().UTC() }

// MetricsSink receives completed trades and can export accumulated state.
type MetricsSink interface {
	RecordTrade(ctx context.Context, trade interface{}) error
	Export(ctx context.Context, format string) (string, error)
}

// PoolState describes one on-chain liquidity venue for a token.
type PoolState struct {
	Address   string
	TokenMint string
	Venue     string // e.g. "pump-bonding-curve", "raydium-amm", "orca-whirlpool"
	TVL       decimal.Decimal
	Reserves  decimal.Decimal
}

// PoolStateReader reads pool accounts for the Pool/Migration Monitor.
type PoolStateReader interface {
	GetPool(ctx context.Context, address string) (*PoolState, error)
	GetPoolsForToken(ctx context.Context, tokenMint string) ([]*PoolState, error)
}
