package walletsvc

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
)

const lamportsPerSOL = 1_000_000_000

// nativeMint is the token mint value that stands for "SOL itself": an
// empty mint selects the native lamport balance, and GetAllBalances keys
// the SOL balance under it.
const nativeMint = ""

// RPCBalanceProvider implements collaborators.BalanceProvider over a Solana
// RPC endpoint, grounded on the teacher's Service.GetBalance and
// Service.GetTokenBalances (internal/web3/solana/service.go), adapted to
// resolve the orchestrator's wallet ids to addresses via a Resolver instead
// of taking a solana.PublicKey directly.
type RPCBalanceProvider struct {
	client   *rpc.Client
	resolver Resolver
}

// Resolver maps an orchestrator wallet id to its Solana address. Keystore
// satisfies this via GetAddress.
type Resolver interface {
	GetAddress(ctx context.Context, walletID string) (string, error)
}

// NewRPCBalanceProvider constructs a balance provider against the given
// Solana RPC endpoint.
func NewRPCBalanceProvider(rpcURL string, resolver Resolver) *RPCBalanceProvider {
	return &RPCBalanceProvider{client: rpc.New(rpcURL), resolver: resolver}
}

// GetBalance reads the SOL balance when tokenMint is empty, otherwise the
// SPL token balance for that mint.
func (p *RPCBalanceProvider) GetBalance(ctx context.Context, walletID string, tokenMint string) (decimal.Decimal, error) {
	addr, err := p.resolver.GetAddress(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	pubkey, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return decimal.Zero, orcherr.InternalInvariant("rpc_balance_provider", "get_balance", err)
	}

	if tokenMint == nativeMint {
		out, err := p.client.GetBalance(ctx, pubkey, rpc.CommitmentFinalized)
		if err != nil {
			return decimal.Zero, classifyRPCErr(err)
		}
		return decimal.NewFromInt(int64(out.Value)).Div(decimal.NewFromInt(lamportsPerSOL)), nil
	}

	mint, err := solana.PublicKeyFromBase58(tokenMint)
	if err != nil {
		return decimal.Zero, orcherr.InternalInvariant("rpc_balance_provider", "get_balance", err)
	}
	accounts, err := p.client.GetTokenAccountsByOwner(ctx, pubkey,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{Commitment: rpc.CommitmentFinalized})
	if err != nil {
		return decimal.Zero, classifyRPCErr(err)
	}
	total := decimal.Zero
	for _, acc := range accounts.Value {
		parsed, err := parseTokenAccountAmount(acc.Account.Data.GetBinary())
		if err != nil {
			continue
		}
		total = total.Add(parsed)
	}
	return total, nil
}

// GetAllBalances returns native SOL plus every SPL mint the wallet holds a
// token account for.
func (p *RPCBalanceProvider) GetAllBalances(ctx context.Context, walletID string) (map[string]decimal.Decimal, error) {
	addr, err := p.resolver.GetAddress(ctx, walletID)
	if err != nil {
		return nil, err
	}
	pubkey, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return nil, orcherr.InternalInvariant("rpc_balance_provider", "get_all_balances", err)
	}

	out := make(map[string]decimal.Decimal)
	sol, err := p.client.GetBalance(ctx, pubkey, rpc.CommitmentFinalized)
	if err != nil {
		return nil, classifyRPCErr(err)
	}
	out[nativeMint] = decimal.NewFromInt(int64(sol.Value)).Div(decimal.NewFromInt(lamportsPerSOL))

	accounts, err := p.client.GetTokenAccountsByOwner(ctx, pubkey,
		&rpc.GetTokenAccountsConfig{ProgramId: &solana.TokenProgramID},
		&rpc.GetTokenAccountsOpts{Commitment: rpc.CommitmentFinalized})
	if err != nil {
		return nil, classifyRPCErr(err)
	}
	for _, acc := range accounts.Value {
		mint, amount, err := parseTokenAccount(acc.Account.Data.GetBinary())
		if err != nil {
			continue
		}
		out[mint] = out[mint].Add(amount)
	}
	return out, nil
}

// parseTokenAccount extracts the mint (bytes 0:32) and the raw u64 amount
// (bytes 64:72, little-endian) from an SPL token account's binary layout,
// mirroring the teacher's "would be parsed from account data" placeholder
// in GetTokenBalances — filled in here rather than left simplified.
func parseTokenAccount(data []byte) (mint string, amount decimal.Decimal, err error) {
	if len(data) < 72 {
		return "", decimal.Zero, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	mintKey := solana.PublicKeyFromBytes(data[0:32])
	raw := uint64(0)
	for i := 0; i < 8; i++ {
		raw |= uint64(data[64+i]) << (8 * uint(i))
	}
	return mintKey.String(), decimal.NewFromInt(int64(raw)), nil
}

func parseTokenAccountAmount(data []byte) (decimal.Decimal, error) {
	_, amount, err := parseTokenAccount(data)
	return amount, err
}

func classifyRPCErr(err error) error {
	return orcherr.TransientExternal("rpc_balance_provider", "rpc_call", err)
}

var _ collaborators.BalanceProvider = (*RPCBalanceProvider)(nil)
