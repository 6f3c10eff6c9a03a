package walletsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
)

func TestGenerateThenSignRoundTrip(t *testing.T) {
	ks := NewKeystore()
	addr, err := ks.Generate("wallet-1")
	require.NoError(t, err)
	require.NotEmpty(t, addr)

	got, err := ks.GetAddress(context.Background(), "wallet-1")
	require.NoError(t, err)
	require.Equal(t, addr, got)

	sig, err := ks.SignTransaction(context.Background(), "wallet-1", []byte("payload"))
	require.NoError(t, err)
	require.NotEmpty(t, sig)
}

func TestSignUnknownWalletFails(t *testing.T) {
	ks := NewKeystore()
	_, err := ks.SignTransaction(context.Background(), "nope", []byte("payload"))
	require.ErrorIs(t, err, collaborators.ErrWalletNotFound)
}

func TestGenerateProducesDistinctAddresses(t *testing.T) {
	ks := NewKeystore()
	a1, err := ks.Generate("w1")
	require.NoError(t, err)
	a2, err := ks.Generate("w2")
	require.NoError(t, err)
	require.NotEqual(t, a1, a2)
}
