package metricsink

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/internal/domain"
)

func TestRecordTradeCountsSuccessesAndFailures(t *testing.T) {
	s := New()
	ctx := context.Background()

	t1 := domain.NewTradeRecord()
	t1.TokenMint = "MINT"
	t1.Side = domain.SideBuy
	t1.Amount = decimal.NewFromInt(100)
	t1.Fees = decimal.NewFromInt(1)
	t1.Success = true
	require.NoError(t, s.RecordTrade(ctx, t1))

	t2 := domain.NewTradeRecord()
	t2.TokenMint = "MINT"
	t2.Side = domain.SideSell
	t2.Success = false
	require.NoError(t, s.RecordTrade(ctx, t2))

	out, err := s.Export(ctx, "json")
	require.NoError(t, err)
	require.Contains(t, out, "trades_total")
	require.JSONEq(t, `{"trades_total":2}`, out)
}

func TestRecordTradeRejectsWrongType(t *testing.T) {
	s := New()
	err := s.RecordTrade(context.Background(), "not a trade")
	require.Error(t, err)
}

func TestExportUnsupportedFormat(t *testing.T) {
	s := New()
	_, err := s.Export(context.Background(), "xml")
	require.Error(t, err)
}
