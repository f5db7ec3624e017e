package normalizer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// Solana memo program, both the legacy and current deployments
const (
	memoProgramV1 = "Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo"
	memoProgramV2 = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
)

// HeliusExtractor parses Helius enhanced-transaction webhook payloads.
// Helius delivers an array of enriched transactions per webhook call.
type HeliusExtractor struct{}

type heliusTransaction struct {
	Signature      string `json:"signature"`
	Type           string `json:"type"`
	Description    string `json:"description"`
	TokenTransfers []struct {
		FromUserAccount string  `json:"fromUserAccount"`
		ToUserAccount   string  `json:"toUserAccount"`
		TokenAmount     float64 `json:"tokenAmount"`
		Mint            string  `json:"mint"`
	} `json:"tokenTransfers"`
	NativeTransfers []struct {
		FromUserAccount string `json:"fromUserAccount"`
		ToUserAccount   string `json:"toUserAccount"`
		Amount          int64  `json:"amount"`
	} `json:"nativeTransfers"`
	Instructions []struct {
		ProgramID string `json:"programId"`
		Data      string `json:"data"`
		Parsed    string `json:"parsed"`
	} `json:"instructions"`
	Memo string `json:"memo"`
}

func (e *HeliusExtractor) Extract(chain entities.Chain, raw []byte) ([]entities.Observation, error) {
	var txs []heliusTransaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		// Helius test deliveries wrap the array in an object
		var wrapped struct {
			Transactions []heliusTransaction `json:"transactions"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode helius payload: %w", err)
		}
		txs = wrapped.Transactions
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("helius payload has no transactions")
	}

	var observations []entities.Observation
	for _, tx := range txs {
		if tx.Signature == "" {
			continue
		}
		memo := extractMemo(tx)

		for _, tt := range tx.TokenTransfers {
			observations = append(observations, entities.Observation{
				TxHash:        tx.Signature,
				FromAddress:   tt.FromUserAccount,
				ToAddress:     tt.ToUserAccount,
				Amount:        decimal.NewFromFloat(tt.TokenAmount),
				Token:         tokenFromMint(tt.Mint),
				TokenContract: tt.Mint,
				Memo:          memo,
				RawPayload:    raw,
			})
		}
		for _, nt := range tx.NativeTransfers {
			// lamports, 9 decimals
			observations = append(observations, entities.Observation{
				TxHash:      tx.Signature,
				FromAddress: nt.FromUserAccount,
				ToAddress:   nt.ToUserAccount,
				Amount:      decimal.NewFromInt(nt.Amount).Shift(-9),
				Token:       entities.TokenNative,
				Memo:        memo,
				RawPayload:  raw,
			})
		}
	}

	if len(observations) == 0 {
		return nil, fmt.Errorf("helius payload had no usable transfers")
	}
	return observations, nil
}

// extractMemo resolves the deposit reference attached to a Solana transfer.
// Preference order: the enriched top-level memo field, a pre-parsed memo
// instruction, then the base64-encoded instruction data Helius ships when
// enrichment did not run.
func extractMemo(tx heliusTransaction) string {
	if tx.Memo != "" {
		return tx.Memo
	}
	for _, ins := range tx.Instructions {
		if ins.ProgramID != memoProgramV1 && ins.ProgramID != memoProgramV2 {
			continue
		}
		if ins.Parsed != "" {
			return ins.Parsed
		}
		if ins.Data != "" {
			if decoded, err := base64.StdEncoding.DecodeString(ins.Data); err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}
	return ""
}

// Mainnet mint addresses for the stablecoins the platform accepts
const (
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	usdtMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

func tokenFromMint(mint string) entities.Token {
	switch mint {
	case usdcMint:
		return entities.TokenUSDC
	case usdtMint:
		return entities.TokenUSDT
	}
	return entities.Token(mint)
}
