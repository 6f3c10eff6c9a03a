package tradeledger

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/pkg/database"
)

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(&database.DB{DB: db}), mock
}

func TestRecordInsertsTrade(t *testing.T) {
	l, mock := newTestLedger(t)
	trade := domain.NewTradeRecord()
	trade.TokenMint = "MINT"
	trade.Side = domain.SideBuy
	trade.Amount = decimal.NewFromInt(100)
	trade.Timestamp = time.Now()

	mock.ExpectExec("INSERT INTO orchestrator_trades").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, l.Record(context.Background(), trade))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVolumeForCampaignSumsSuccessfulTrades(t *testing.T) {
	l, mock := newTestLedger(t)
	rows := sqlmock.NewRows([]string{"coalesce"}).AddRow("1500")
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(rows)

	total, err := l.VolumeForCampaign(context.Background(), "camp-1")
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromInt(1500)))
}

func TestTradesForWalletScansRows(t *testing.T) {
	l, mock := newTestLedger(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "bot_id", "wallet_id", "campaign_id", "token_mint", "side", "amount", "price", "fees", "signature", "success", "error_message", "recorded_at"}).
		AddRow("t1", "bot1", "wallet1", "camp1", "MINT", "buy", "100", "1.5", "0.1", "sig1", true, "", now)
	mock.ExpectQuery("SELECT id, bot_id").WillReturnRows(rows)

	trades, err := l.TradesForWallet(context.Background(), "wallet1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "wallet1", trades[0].WalletID)
	require.True(t, trades[0].Amount.Equal(decimal.NewFromInt(100)))
}
