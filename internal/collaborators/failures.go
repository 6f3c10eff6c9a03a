package collaborators

import "errors"

// Collaborator failure modes named in spec §6. Adapters return these
// (wrapped with orcherr.TransientExternal/PermanentExternal as appropriate)
// so the Task Queue's retry classification and the bot's trade-outcome
// handling can branch on them with errors.Is.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrRateLimited           = errors.New("rate limited")
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrNoRoute               = errors.New("no route")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSimulationFailed      = errors.New("simulation failed")
	ErrConfirmationTimeout   = errors.New("confirmation timeout")
	ErrBlockhashExpired      = errors.New("blockhash expired")
	ErrNetworkError          = errors.New("network error")
)
