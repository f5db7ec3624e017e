package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerr "github.com/starpay-service/starpay_service/internal/domain/errors"
)

// rpcServer answers JSON-RPC calls with canned results keyed by method
func rpcServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, ok := results[req.Method]
		require.True(t, ok, "unexpected rpc method %s", req.Method)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, result)
	}))
}

func TestSignaturesForAddress(t *testing.T) {
	server := rpcServer(t, map[string]string{
		"getSignaturesForAddress": `[
			{"signature": "sigB", "slot": 200, "confirmationStatus": "finalized"},
			{"signature": "sigA", "slot": 100, "err": {"InstructionError": [0, "Custom"]}, "confirmationStatus": "finalized"}
		]`,
	})
	defer server.Close()

	client := NewClient(server.URL)
	sigs, err := client.SignaturesForAddress(context.Background(), "custodialPk", "sigOld", 50)

	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, "sigB", sigs[0].Signature)
	assert.Nil(t, sigs[0].Err)
	assert.NotNil(t, sigs[1].Err)
}

func TestVerifyTransferNativeDelta(t *testing.T) {
	server := rpcServer(t, map[string]string{
		"getTransaction": `{
			"slot": 300,
			"meta": {
				"err": null,
				"preBalances": [5000000000, 1000000000],
				"postBalances": [2400000000, 3600000000]
			},
			"transaction": {
				"message": {
					"accountKeys": [
						{"pubkey": "senderPk"},
						{"pubkey": "custodialPk"}
					],
					"instructions": []
				}
			}
		}`,
	})
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.VerifyTransfer(context.Background(), "sig1", "custodialPk", "")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Finalized)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("2.6")), "got %s", result.Amount)
}

func TestVerifyTransferTokenDelta(t *testing.T) {
	server := rpcServer(t, map[string]string{
		"getTransaction": `{
			"slot": 301,
			"meta": {
				"err": null,
				"preBalances": [], "postBalances": [],
				"preTokenBalances": [
					{"accountIndex": 2, "mint": "MintX", "owner": "custodialPk", "uiTokenAmount": {"amount": "1000000", "decimals": 6}}
				],
				"postTokenBalances": [
					{"accountIndex": 2, "mint": "MintX", "owner": "custodialPk", "uiTokenAmount": {"amount": "43500000", "decimals": 6}},
					{"accountIndex": 3, "mint": "MintX", "owner": "someoneElse", "uiTokenAmount": {"amount": "9000000", "decimals": 6}}
				]
			},
			"transaction": {"message": {"accountKeys": [], "instructions": []}}
		}`,
	})
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.VerifyTransfer(context.Background(), "sig2", "custodialPk", "MintX")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("42.5")), "got %s", result.Amount)
}

func TestVerifyTransferExtractsMemo(t *testing.T) {
	server := rpcServer(t, map[string]string{
		"getTransaction": `{
			"slot": 302,
			"meta": {"err": null, "preBalances": [0], "postBalances": [1000000000]},
			"transaction": {
				"message": {
					"accountKeys": [{"pubkey": "custodialPk"}],
					"instructions": [
						{"program": "spl-token", "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"},
						{"program": "spl-memo", "programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr", "parsed": "f47ac10b-58cc-4372-a567-0e02b2c3d479"}
					]
				}
			}
		}`,
	})
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.VerifyTransfer(context.Background(), "sig3", "custodialPk", "")

	require.NoError(t, err)
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479", result.Memo)
}

func TestVerifyTransferFailedOnChain(t *testing.T) {
	server := rpcServer(t, map[string]string{
		"getTransaction": `{
			"slot": 303,
			"meta": {"err": {"InstructionError": [0, "Custom"]}, "preBalances": [], "postBalances": []},
			"transaction": {"message": {"accountKeys": [], "instructions": []}}
		}`,
	})
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.VerifyTransfer(context.Background(), "sig4", "custodialPk", "")

	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestVerifyTransferNotFound(t *testing.T) {
	server := rpcServer(t, map[string]string{"getTransaction": `null`})
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.VerifyTransfer(context.Background(), "sigMissing", "custodialPk", "")

	require.Error(t, err)
	var de *domainerr.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domainerr.KindVerification, de.Kind)
	assert.Equal(t, "TX_NOT_FOUND", de.Code)
	assert.False(t, domainerr.IsRetryable(err))
}

func TestRPCErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.SignaturesForAddress(context.Background(), "addr", "", 10)

	require.Error(t, err)
	assert.True(t, domainerr.IsRetryable(err))
}

func TestRPCBadStatusIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.VerifyTransfer(context.Background(), "sig", "addr", "")

	require.Error(t, err)
	assert.True(t, domainerr.IsRetryable(err))
}
