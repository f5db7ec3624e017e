// Package solana implements the small slice of the Solana JSON-RPC surface
// the engine needs: signature listing for the watcher and parsed transaction
// fetch for verification. Requests go straight to the RPC endpoint over HTTP.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	domainerr "github.com/starpay-service/starpay_service/internal/domain/errors"
)

const lamportDecimals = 9

// Client talks to a Solana RPC endpoint
type Client struct {
	rpcURL string
	http   *http.Client
}

// NewClient creates a Solana RPC client
func NewClient(rpcURL string) *Client {
	return &Client{
		rpcURL: rpcURL,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Chain returns the chain this client serves
func (c *Client) Chain() entities.Chain { return entities.ChainSolana }

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domainerr.InfrastructureError(fmt.Errorf("solana %s: %w", method, err), "RPC_REQUEST")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domainerr.InfrastructureError(fmt.Errorf("solana %s: status %d", method, resp.StatusCode), "RPC_STATUS")
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return domainerr.InfrastructureError(fmt.Errorf("solana %s: decode response: %w", method, err), "RPC_DECODE")
	}
	if envelope.Error != nil {
		return domainerr.InfrastructureError(fmt.Errorf("solana %s: rpc error %d: %s", method, envelope.Error.Code, envelope.Error.Message), "RPC_ERROR")
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return domainerr.InfrastructureError(fmt.Errorf("solana %s: decode result: %w", method, err), "RPC_DECODE")
		}
	}
	return nil
}

// SignatureInfo is one entry from getSignaturesForAddress
type SignatureInfo struct {
	Signature          string  `json:"signature"`
	Slot               uint64  `json:"slot"`
	Err                any     `json:"err"`
	Memo               *string `json:"memo"`
	ConfirmationStatus string  `json:"confirmationStatus"`
}

// SignaturesForAddress lists recent signatures touching the address, newest
// first, stopping at the untilSignature cursor when set.
func (c *Client) SignaturesForAddress(ctx context.Context, address, untilSignature string, limit int) ([]SignatureInfo, error) {
	opts := map[string]interface{}{"limit": limit, "commitment": "finalized"}
	if untilSignature != "" {
		opts["until"] = untilSignature
	}

	var sigs []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, opts}, &sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}

type parsedTransaction struct {
	Slot int64 `json:"slot"`
	Meta struct {
		Err               any      `json:"err"`
		PreBalances       []int64  `json:"preBalances"`
		PostBalances      []int64  `json:"postBalances"`
		PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance `json:"postTokenBalances"`
		LogMessages       []string `json:"logMessages"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
			} `json:"accountKeys"`
			Instructions []struct {
				Program   string          `json:"program"`
				ProgramID string          `json:"programId"`
				Parsed    json.RawMessage `json:"parsed"`
			} `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

type tokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int32  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// VerifiedTransfer is the on-chain truth for one signature as it affects a
// single custodial address.
type VerifiedTransfer struct {
	Amount    decimal.Decimal
	Memo      string
	Finalized bool
	Success   bool
}

// VerifyTransfer fetches the parsed transaction and computes the balance
// delta of the custodial address. mint selects the SPL token; empty mint
// means native SOL.
func (c *Client) VerifyTransfer(ctx context.Context, signature, custodialAddress, mint string) (*VerifiedTransfer, error) {
	opts := map[string]interface{}{
		"encoding":                       "jsonParsed",
		"commitment":                     "finalized",
		"maxSupportedTransactionVersion": 0,
	}

	var tx *parsedTransaction
	if err := c.call(ctx, "getTransaction", []interface{}{signature, opts}, &tx); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, domainerr.VerificationError("TX_NOT_FOUND", fmt.Sprintf("signature %s not found", signature))
	}

	result := &VerifiedTransfer{
		Finalized: true,
		Success:   tx.Meta.Err == nil,
		Memo:      extractMemo(tx),
	}
	if !result.Success {
		return result, nil
	}

	if mint == "" {
		result.Amount = nativeDelta(tx, custodialAddress)
	} else {
		result.Amount = tokenDelta(tx, custodialAddress, mint)
	}
	return result, nil
}

// nativeDelta is post minus pre lamports for the custodial account
func nativeDelta(tx *parsedTransaction, address string) decimal.Decimal {
	for i, key := range tx.Transaction.Message.AccountKeys {
		if key.Pubkey != address {
			continue
		}
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			break
		}
		delta := tx.Meta.PostBalances[i] - tx.Meta.PreBalances[i]
		return decimal.NewFromInt(delta).Shift(-lamportDecimals)
	}
	return decimal.Zero
}

// tokenDelta is the owner's post minus pre amount for the mint
func tokenDelta(tx *parsedTransaction, owner, mint string) decimal.Decimal {
	pre := decimal.Zero
	post := decimal.Zero
	for _, tb := range tx.Meta.PreTokenBalances {
		if tb.Owner == owner && tb.Mint == mint {
			if amt, err := decimal.NewFromString(tb.UITokenAmount.Amount); err == nil {
				pre = pre.Add(amt.Shift(-tb.UITokenAmount.Decimals))
			}
		}
	}
	for _, tb := range tx.Meta.PostTokenBalances {
		if tb.Owner == owner && tb.Mint == mint {
			if amt, err := decimal.NewFromString(tb.UITokenAmount.Amount); err == nil {
				post = post.Add(amt.Shift(-tb.UITokenAmount.Decimals))
			}
		}
	}
	return post.Sub(pre)
}

func extractMemo(tx *parsedTransaction) string {
	for _, ins := range tx.Transaction.Message.Instructions {
		if ins.Program != "spl-memo" || len(ins.Parsed) == 0 {
			continue
		}
		// jsonParsed renders a memo instruction's payload as a bare string
		var memo string
		if err := json.Unmarshal(ins.Parsed, &memo); err == nil {
			return memo
		}
	}
	return ""
}
