// Package tradeledger persists completed trades to Postgres, grounded on
// the teacher's raw-SQL persistence style (internal/web3/solana/
// wallet_manager.go's saveWallet/getWalletByPublicKey) adapted to trade
// records and driven through the teacher's pooled *database.DB
// (pkg/database/postgres.go) instead of a bare *sql.DB.
package tradeledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
	"github.com/solbotswarm/orchestrator/pkg/database"
)

// Ledger durably records trade outcomes for audit and reconciliation,
// independent of the in-memory CampaignMetrics aggregate.
type Ledger struct {
	db *database.DB
}

// New constructs a Ledger over an already-connected database.DB. Callers
// are expected to have run the orchestrator_trades migration (see Schema).
func New(db *database.DB) *Ledger {
	return &Ledger{db: db}
}

// Schema is the DDL for the ledger's single table, applied by the
// deployment's migration tooling rather than at runtime.
const Schema = `
CREATE TABLE IF NOT EXISTS orchestrator_trades (
	id             UUID PRIMARY KEY,
	bot_id         TEXT NOT NULL,
	wallet_id      TEXT NOT NULL,
	campaign_id    TEXT NOT NULL DEFAULT '',
	token_mint     TEXT NOT NULL,
	side           TEXT NOT NULL,
	amount         NUMERIC NOT NULL,
	price          NUMERIC NOT NULL,
	fees           NUMERIC NOT NULL,
	signature      TEXT NOT NULL DEFAULT '',
	success        BOOLEAN NOT NULL,
	error_message  TEXT NOT NULL DEFAULT '',
	recorded_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orchestrator_trades_campaign_idx ON orchestrator_trades (campaign_id);
`

// Record inserts one trade, idempotent on trade id (a retried insert for
// an already-recorded trade is a no-op, not an error).
func (l *Ledger) Record(ctx context.Context, trade *domain.TradeRecord) error {
	const query = `
		INSERT INTO orchestrator_trades
			(id, bot_id, wallet_id, campaign_id, token_mint, side, amount, price, fees, signature, success, error_message, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := l.db.ExecWithMetrics(ctx, query,
		trade.ID, trade.BotID, trade.WalletID, trade.CampaignID, trade.TokenMint, string(trade.Side),
		trade.Amount, trade.Price, trade.Fees, trade.Signature, trade.Success, trade.ErrorMessage, trade.Timestamp,
	)
	if err != nil {
		return orcherr.TransientExternal("trade_ledger", "record", err)
	}
	return nil
}

// VolumeForCampaign sums the recorded successful trade volume for a
// campaign, used to reconcile the in-memory CampaignMetrics aggregate
// after a restart.
func (l *Ledger) VolumeForCampaign(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM orchestrator_trades WHERE campaign_id = $1 AND success = true`
	var total string
	err := l.db.QueryRowContext(ctx, query, campaignID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, orcherr.TransientExternal("trade_ledger", "volume_for_campaign", err)
	}
	sum, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, orcherr.InternalInvariant("trade_ledger", "volume_for_campaign", fmt.Errorf("parse sum %q: %w", total, err))
	}
	return sum, nil
}

// TradesForWallet returns every recorded trade for one wallet, most recent
// first, bounded by limit.
func (l *Ledger) TradesForWallet(ctx context.Context, walletID string, limit int) ([]*domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, bot_id, wallet_id, campaign_id, token_mint, side, amount, price, fees, signature, success, error_message, recorded_at
		FROM orchestrator_trades
		WHERE wallet_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, walletID, limit)
	if err != nil {
		return nil, orcherr.TransientExternal("trade_ledger", "trades_for_wallet", err)
	}
	defer rows.Close()

	var out []*domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side string
		var amount, price, fees string
		if err := rows.Scan(&t.ID, &t.BotID, &t.WalletID, &t.CampaignID, &t.TokenMint, &side, &amount, &price, &fees, &t.Signature, &t.Success, &t.ErrorMessage, &t.Timestamp); err != nil {
			return nil, orcherr.InternalInvariant("trade_ledger", "trades_for_wallet", err)
		}
		t.Side = domain.TradeSide(side)
		t.Amount, _ = decimal.NewFromString(amount)
		t.Price, _ = decimal.NewFromString(price)
		t.Fees, _ = decimal.NewFromString(fees)
		out = append(out, &t)
	}
	return out, rows.Err()
}
