// Package walletsvc implements collaborators.WalletSigner over locally held
// Solana keypairs, grounded on the teacher's WalletManager registry shape
// (internal/web3/solana/wallet_manager.go) but adapted from a
// browser-connected-wallet registry into an in-process keystore: swarm
// wallets are generated, not connected, so there is no external signer to
// delegate to.
package walletsvc

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
)

// Keystore holds generated Solana keypairs in memory, keyed by the
// orchestrator's own wallet id (not the public key itself, since a bot
// only ever knows its wallet id).
type Keystore struct {
	mu  sync.RWMutex
	keys map[string]solana.PrivateKey
}

// NewKeystore constructs an empty keystore.
func NewKeystore() *Keystore {
	return &Keystore{keys: make(map[string]solana.PrivateKey)}
}

// Generate creates a fresh keypair for walletID and returns its base58
// address. Regenerating an existing walletID replaces its key.
func (k *Keystore) Generate(walletID string) (string, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", orcherr.InternalInvariant("wallet_keystore", "generate", err)
	}
	k.mu.Lock()
	k.keys[walletID] = key
	k.mu.Unlock()
	return key.PublicKey().String(), nil
}

// Import registers an existing keypair under walletID (used for
// pre-funded wallets supplied out of band).
func (k *Keystore) Import(walletID string, key solana.PrivateKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[walletID] = key
}

// SignTransaction implements collaborators.WalletSigner by signing the
// message bytes with walletID's private key.
func (k *Keystore) SignTransaction(ctx context.Context, walletID string, txBytes []byte) ([]byte, error) {
	k.mu.RLock()
	key, ok := k.keys[walletID]
	k.mu.RUnlock()
	if !ok {
		return nil, orcherr.NotFound("wallet_keystore", "sign_transaction", collaborators.ErrWalletNotFound)
	}
	sig, err := key.Sign(txBytes)
	if err != nil {
		return nil, orcherr.InternalInvariant("wallet_keystore", "sign_transaction", err)
	}
	return sig[:], nil
}

// GetAddress returns the base58 public key for walletID.
func (k *Keystore) GetAddress(ctx context.Context, walletID string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[walletID]
	if !ok {
		return "", orcherr.NotFound("wallet_keystore", "get_address", collaborators.ErrWalletNotFound)
	}
	return key.PublicKey().String(), nil
}

var _ collaborators.WalletSigner = (*Keystore)(nil)
