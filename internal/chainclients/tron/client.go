// Package tron talks to the TronGrid REST API. Amount truth for Tron stays
// with the provider payload; this client confirms that a transaction exists
// and executed successfully, and lists inbound TRC-20 transfers for the
// watcher.
package tron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	domainerr "github.com/starpay-service/starpay_service/internal/domain/errors"
)

// Client wraps the TronGrid HTTP API
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a TronGrid client. apiKey may be empty for public limits.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Chain returns the chain this client serves
func (c *Client) Chain() entities.Chain { return entities.ChainTron }

func (c *Client) do(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domainerr.InfrastructureError(fmt.Errorf("trongrid request: %w", err), "TRON_REQUEST")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domainerr.InfrastructureError(fmt.Errorf("trongrid status %d", resp.StatusCode), "TRON_STATUS")
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return domainerr.InfrastructureError(fmt.Errorf("trongrid decode: %w", err), "TRON_DECODE")
	}
	return nil
}

// TransactionStatus is the execution outcome of one Tron transaction
type TransactionStatus struct {
	Exists      bool
	Success     bool
	BlockNumber int64
}

// GetTransactionStatus checks whether txID landed on chain and succeeded
func (c *Client) GetTransactionStatus(ctx context.Context, txID string) (*TransactionStatus, error) {
	body, err := json.Marshal(map[string]string{"value": txID})
	if err != nil {
		return nil, fmt.Errorf("marshal trongrid request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/wallet/gettransactioninfobyid", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build trongrid request: %w", err)
	}

	var info struct {
		ID          string `json:"id"`
		BlockNumber int64  `json:"blockNumber"`
		Receipt     struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	if err := c.do(req, &info); err != nil {
		return nil, err
	}

	// TronGrid answers an empty object for unknown transaction IDs
	if info.ID == "" {
		return &TransactionStatus{}, nil
	}
	return &TransactionStatus{
		Exists:      true,
		// Plain TRX transfers carry no receipt result field
		Success:     info.Receipt.Result == "" || info.Receipt.Result == "SUCCESS",
		BlockNumber: info.BlockNumber,
	}, nil
}

// TRC20Transfer is one inbound token transfer reported for an account
type TRC20Transfer struct {
	TxID        string
	From        string
	To          string
	Amount      decimal.Decimal
	Contract    string
	TimestampMs int64
}

// ListTRC20Transfers lists transfers into address since minTimestampMs,
// oldest first, optionally filtered to one token contract.
func (c *Client) ListTRC20Transfers(ctx context.Context, address, contract string, minTimestampMs int64, limit int) ([]TRC20Transfer, error) {
	q := url.Values{}
	q.Set("only_to", "true")
	q.Set("only_confirmed", "true")
	q.Set("order_by", "block_timestamp,asc")
	q.Set("limit", strconv.Itoa(limit))
	if minTimestampMs > 0 {
		q.Set("min_timestamp", strconv.FormatInt(minTimestampMs+1, 10))
	}
	if contract != "" {
		q.Set("contract_address", contract)
	}

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?%s", c.baseURL, url.PathEscape(address), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build trongrid request: %w", err)
	}

	var payload struct {
		Data []struct {
			TransactionID  string `json:"transaction_id"`
			From           string `json:"from"`
			To             string `json:"to"`
			Value          string `json:"value"`
			BlockTimestamp int64  `json:"block_timestamp"`
			TokenInfo      struct {
				Address  string `json:"address"`
				Decimals int32  `json:"decimals"`
			} `json:"token_info"`
		} `json:"data"`
	}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}

	transfers := make([]TRC20Transfer, 0, len(payload.Data))
	for _, d := range payload.Data {
		amount := decimal.Zero
		if units, err := decimal.NewFromString(d.Value); err == nil {
			amount = units.Shift(-d.TokenInfo.Decimals)
		}
		transfers = append(transfers, TRC20Transfer{
			TxID:        d.TransactionID,
			From:        d.From,
			To:          d.To,
			Amount:      amount,
			Contract:    d.TokenInfo.Address,
			TimestampMs: d.BlockTimestamp,
		})
	}
	return transfers, nil
}
