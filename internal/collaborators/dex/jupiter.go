// Package dex adapts Jupiter's aggregator API to collaborators.TradingExecutor,
// grounded on the teacher's JupiterClient (internal/web3/solana/
// jupiter_client.go), generalized from a browser-initiated swap into one a
// bot can call directly with a wallet id rather than a connected
// browser wallet's public key, and classified into the orchestrator's
// collaborator failure-mode sentinels instead of bare fmt.Errorf.
package dex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solbotswarm/orchestrator/internal/collaborators"
)

const lamportsPerUnit = 1_000_000_000 // 1e9, matches the teacher's fixed-decimals simplification

// JupiterExecutor executes swaps through Jupiter's quote+swap HTTP API.
type JupiterExecutor struct {
	baseURL string
	client  *http.Client
	signer  collaborators.WalletSigner
}

// NewJupiterExecutor constructs an executor against Jupiter's public quote
// API. signer is used to sign the transaction Jupiter returns.
func NewJupiterExecutor(signer collaborators.WalletSigner) *JupiterExecutor {
	return NewJupiterExecutorWithBaseURL("https://quote-api.jup.ag/v6", signer)
}

// NewJupiterExecutorWithBaseURL targets a non-default base URL, for tests
// and for self-hosted Jupiter instances.
func NewJupiterExecutorWithBaseURL(baseURL string, signer collaborators.WalletSigner) *JupiterExecutor {
	return &JupiterExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		signer:  signer,
	}
}

type quoteRequest struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	Amount      string `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
}

type quoteResponse struct {
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

type swapRequest struct {
	QuoteResponse    quoteResponse `json:"quoteResponse"`
	UserPublicKey    string        `json:"userPublicKey"`
	WrapAndUnwrapSol bool          `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// nativeMint (wrapped SOL) stands in for the wallet's SOL side of every
// trade; TokenMint on the request is always the other side.
const nativeMint = "So11111111111111111111111111111111111111112"

// ExecuteSwap gets a quote, requests the unsigned transaction, signs it
// with the wallet, and reports a normalized SwapResult. It does not itself
// broadcast the transaction; that is the caller's concern via a separate
// broadcaster (kept out of this adapter to match collaborators.TradingExecutor's
// single-call contract).
func (j *JupiterExecutor) ExecuteSwap(ctx context.Context, req collaborators.SwapRequest) (*collaborators.SwapResult, error) {
	inputMint, outputMint := nativeMint, req.TokenMint
	if req.Side == "sell" {
		inputMint, outputMint = req.TokenMint, nativeMint
	}

	amount := req.Amount.Mul(decimal.NewFromInt(lamportsPerUnit)).StringFixed(0)
	qreq := quoteRequest{InputMint: inputMint, OutputMint: outputMint, Amount: amount, SlippageBps: req.SlippageBps}

	quote, err := j.fetchQuote(ctx, qreq)
	if err != nil {
		return nil, err
	}
	if impact, perr := decimal.NewFromString(quote.PriceImpactPct); perr == nil {
		maxImpact := decimal.NewFromInt(int64(req.SlippageBps)).Div(decimal.NewFromInt(10000))
		if impact.Abs().GreaterThan(maxImpact) {
			return nil, collaborators.ErrSlippageExceeded
		}
	}

	addr, err := j.signer.GetAddress(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}

	sreq := swapRequest{QuoteResponse: *quote, UserPublicKey: addr, WrapAndUnwrapSol: true}
	swapResp, err := j.fetchSwapTransaction(ctx, sreq)
	if err != nil {
		return nil, err
	}

	if _, err := j.signer.SignTransaction(ctx, req.WalletID, []byte(swapResp.SwapTransaction)); err != nil {
		return nil, err
	}

	inAmount, _ := decimal.NewFromString(quote.InAmount)
	outAmount, _ := decimal.NewFromString(quote.OutAmount)
	return &collaborators.SwapResult{
		Signature: "", // assigned once a broadcaster confirms the signed transaction
		AmountIn:  inAmount.Div(decimal.NewFromInt(lamportsPerUnit)),
		AmountOut: outAmount.Div(decimal.NewFromInt(lamportsPerUnit)),
		Fee:       decimal.Zero,
	}, nil
}

func (j *JupiterExecutor) fetchQuote(ctx context.Context, qreq quoteRequest) (*quoteResponse, error) {
	body, err := json.Marshal(qreq)
	if err != nil {
		return nil, collaborators.ErrSimulationFailed
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, j.baseURL+"/quote", bytes.NewReader(body))
	if err != nil {
		return nil, collaborators.ErrNetworkError
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return nil, collaborators.ErrNetworkError
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, collaborators.ErrNoRoute
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s", collaborators.ErrSimulationFailed, string(b))
	}

	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, collaborators.ErrSimulationFailed
	}
	return &q, nil
}

func (j *JupiterExecutor) fetchSwapTransaction(ctx context.Context, sreq swapRequest) (*swapResponse, error) {
	body, err := json.Marshal(sreq)
	if err != nil {
		return nil, collaborators.ErrSimulationFailed
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, collaborators.ErrNetworkError
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return nil, collaborators.ErrNetworkError
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s", collaborators.ErrSimulationFailed, string(b))
	}

	var s swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, collaborators.ErrSimulationFailed
	}
	return &s, nil
}

var _ collaborators.TradingExecutor = (*JupiterExecutor)(nil)
