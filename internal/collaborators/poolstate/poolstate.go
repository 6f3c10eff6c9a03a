// Package poolstate implements collaborators.PoolStateReader over known
// Solana AMM program accounts, grounded on the teacher's ProgramManager
// account-fetching shape (internal/web3/solana/program_manager.go) adapted
// from generic program introspection to the two venue classes the
// Pool/Migration Monitor cares about: a PumpFun-style bonding curve and a
// Raydium-style AMM pool.
package poolstate

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
)

// Venue class tags used in collaborators.PoolState.Venue, matching the
// monitor's detection rule (bonding curve -> standard AMM).
const (
	VenueBondingCurve = "pump-bonding-curve"
	VenueAMM          = "raydium-amm"
)

// Registry lets the Pool/Migration Monitor learn which addresses to poll
// for a token without a general-purpose pool discovery service; entries are
// registered out of band (by the caller, or an indexer collaborator not in
// scope here) as new pools are created.
type Registry struct {
	byToken map[string][]registryEntry
}

type registryEntry struct {
	address string
	venue   string
}

// NewRegistry constructs an empty pool address registry.
func NewRegistry() *Registry {
	return &Registry{byToken: make(map[string][]registryEntry)}
}

// Register associates a pool address and venue class with a token mint.
func (r *Registry) Register(tokenMint, address, venue string) {
	r.byToken[tokenMint] = append(r.byToken[tokenMint], registryEntry{address: address, venue: venue})
}

// Reader implements collaborators.PoolStateReader by reading account
// balances for registered pool addresses over a Solana RPC endpoint.
type Reader struct {
	client   *rpc.Client
	registry *Registry
}

// NewReader constructs a Reader against the given RPC endpoint and address
// registry.
func NewReader(rpcURL string, registry *Registry) *Reader {
	return &Reader{client: rpc.New(rpcURL), registry: registry}
}

// GetPool reads a single pool account's lamport balance as a TVL proxy,
// mirroring the teacher's GetAccountInfo pattern in ProgramManager.
func (r *Reader) GetPool(ctx context.Context, address string) (*collaborators.PoolState, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, orcherr.Validation("pool_state_reader", "get_pool", err)
	}
	info, err := r.client.GetAccountInfo(ctx, pubkey)
	if err != nil {
		return nil, orcherr.TransientExternal("pool_state_reader", "get_pool", err)
	}
	if info == nil || info.Value == nil {
		return nil, orcherr.NotFound("pool_state_reader", "get_pool", nil)
	}

	venue := r.venueFor(address)
	lamports := decimal.NewFromInt(int64(info.Value.Lamports))
	return &collaborators.PoolState{
		Address:  address,
		Venue:    venue,
		TVL:      lamports,
		Reserves: lamports,
	}, nil
}

// GetPoolsForToken reads every pool address registered for tokenMint.
func (r *Reader) GetPoolsForToken(ctx context.Context, tokenMint string) ([]*collaborators.PoolState, error) {
	entries := r.registry.byToken[tokenMint]
	states := make([]*collaborators.PoolState, 0, len(entries))
	for _, e := range entries {
		state, err := r.GetPool(ctx, e.address)
		if err != nil {
			continue
		}
		state.TokenMint = tokenMint
		states = append(states, state)
	}
	return states, nil
}

func (r *Reader) venueFor(address string) string {
	for _, entries := range r.registry.byToken {
		for _, e := range entries {
			if e.address == address {
				return e.venue
			}
		}
	}
	return VenueBondingCurve
}

var _ collaborators.PoolStateReader = (*Reader)(nil)
