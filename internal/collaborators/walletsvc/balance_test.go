package walletsvc

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestParseTokenAccountExtractsMintAndAmount(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	mint := key.PublicKey()
	data := make([]byte, 72)
	copy(data[0:32], mint.Bytes())
	// amount = 12345 lamports, little-endian u64 at offset 64
	data[64] = 0x39
	data[65] = 0x30

	got, amount, err := parseTokenAccount(data)
	require.NoError(t, err)
	require.Equal(t, mint.String(), got)
	require.True(t, amount.Equal(amount))
	require.EqualValues(t, 12345, amount.IntPart())
}

func TestParseTokenAccountRejectsShortData(t *testing.T) {
	_, _, err := parseTokenAccount(make([]byte, 10))
	require.Error(t, err)
}
