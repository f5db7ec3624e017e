package normalizer

import (
	"encoding/json"
	"fmt"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// TronGridExtractor parses TronGrid TRC-20 transfer event payloads
type TronGridExtractor struct{}

type tronGridPayload struct {
	Data []struct {
		TransactionID string `json:"transaction_id"`
		From          string `json:"from"`
		To            string `json:"to"`
		Value         string `json:"value"`
		TokenInfo     struct {
			Address  string `json:"address"`
			Symbol   string `json:"symbol"`
			Decimals int    `json:"decimals"`
		} `json:"token_info"`
	} `json:"data"`
}

func (e *TronGridExtractor) Extract(chain entities.Chain, raw []byte) ([]entities.Observation, error) {
	var payload tronGridPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode trongrid payload: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("trongrid payload has no transfer entries")
	}

	observations := make([]entities.Observation, 0, len(payload.Data))
	for _, tr := range payload.Data {
		if tr.TransactionID == "" {
			continue
		}

		obs := entities.Observation{
			TxHash:        tr.TransactionID,
			FromAddress:   tr.From,
			ToAddress:     tr.To,
			Token:         tokenFromSymbol(tr.TokenInfo.Symbol),
			TokenContract: tr.TokenInfo.Address,
			RawPayload:    raw,
		}
		if tr.Value != "" {
			if units, err := parseDecimalString(tr.Value); err == nil {
				obs.Amount = units.Shift(int32(-tr.TokenInfo.Decimals))
			}
		}

		observations = append(observations, obs)
	}

	if len(observations) == 0 {
		return nil, fmt.Errorf("trongrid payload had no usable transfers")
	}
	return observations, nil
}
