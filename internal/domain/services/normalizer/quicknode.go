package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// QuickNodeExtractor parses QuickNode Streams filtered-transaction payloads
type QuickNodeExtractor struct{}

type quickNodePayload struct {
	StreamID            string `json:"streamId"`
	Network             string `json:"network"`
	MatchedTransactions []struct {
		Hash            string `json:"hash"`
		From            string `json:"from"`
		To              string `json:"to"`
		Value           string `json:"value"`
		ContractAddress string `json:"contractAddress"`
		TokenSymbol     string `json:"tokenSymbol"`
		TokenDecimals   int    `json:"tokenDecimals"`
	} `json:"matchedTransactions"`
}

func (e *QuickNodeExtractor) Extract(chain entities.Chain, raw []byte) ([]entities.Observation, error) {
	var payload quickNodePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode quicknode payload: %w", err)
	}
	if len(payload.MatchedTransactions) == 0 {
		return nil, fmt.Errorf("quicknode payload has no matched transactions")
	}

	observations := make([]entities.Observation, 0, len(payload.MatchedTransactions))
	for _, tx := range payload.MatchedTransactions {
		if tx.Hash == "" {
			continue
		}

		obs := entities.Observation{
			TxHash:        strings.ToLower(tx.Hash),
			FromAddress:   strings.ToLower(tx.From),
			ToAddress:     strings.ToLower(tx.To),
			TokenContract: strings.ToLower(tx.ContractAddress),
			RawPayload:    raw,
		}
		if tx.ContractAddress == "" {
			obs.Token = entities.TokenNative
		} else {
			obs.Token = tokenFromSymbol(tx.TokenSymbol)
		}
		// QuickNode sends amounts as raw hex when streaming receipts and
		// as decimal strings for decoded transfers. Try both.
		if strings.HasPrefix(tx.Value, "0x") {
			decimals := tx.TokenDecimals
			if tx.ContractAddress == "" {
				decimals = 18
			}
			if amt, ok := decodeHexAmount(tx.Value, decimals); ok {
				obs.Amount = amt
			}
		} else if tx.Value != "" {
			if amt, err := parseDecimalString(tx.Value); err == nil {
				obs.Amount = amt
			}
		}

		observations = append(observations, obs)
	}

	if len(observations) == 0 {
		return nil, fmt.Errorf("quicknode payload had no usable transactions")
	}
	return observations, nil
}
