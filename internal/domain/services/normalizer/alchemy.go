package normalizer

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// AlchemyExtractor parses Alchemy Address Activity webhook payloads
type AlchemyExtractor struct{}

type alchemyPayload struct {
	WebhookID string `json:"webhookId"`
	Type      string `json:"type"`
	Event     struct {
		Network  string `json:"network"`
		Activity []struct {
			FromAddress string   `json:"fromAddress"`
			ToAddress   string   `json:"toAddress"`
			Value       *float64 `json:"value"`
			Asset       string   `json:"asset"`
			Category    string   `json:"category"`
			Hash        string   `json:"hash"`
			RawContract struct {
				Address  string `json:"address"`
				RawValue string `json:"rawValue"`
				Decimals int    `json:"decimals"`
			} `json:"rawContract"`
		} `json:"activity"`
	} `json:"event"`
}

func (e *AlchemyExtractor) Extract(chain entities.Chain, raw []byte) ([]entities.Observation, error) {
	var payload alchemyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode alchemy payload: %w", err)
	}
	if len(payload.Event.Activity) == 0 {
		return nil, fmt.Errorf("alchemy payload has no activity entries")
	}

	observations := make([]entities.Observation, 0, len(payload.Event.Activity))
	for _, act := range payload.Event.Activity {
		if act.Hash == "" {
			continue
		}

		obs := entities.Observation{
			TxHash:        strings.ToLower(act.Hash),
			FromAddress:   strings.ToLower(act.FromAddress),
			ToAddress:     strings.ToLower(act.ToAddress),
			Token:         tokenFromSymbol(act.Asset),
			TokenContract: strings.ToLower(act.RawContract.Address),
			RawPayload:    raw,
		}
		if act.Category == "external" || act.Category == "internal" {
			obs.Token = entities.TokenNative
		}
		if act.Value != nil {
			obs.Amount = decimal.NewFromFloat(*act.Value)
		} else if act.RawContract.RawValue != "" {
			// ERC-20 transfers without a decoded value carry the raw
			// hex amount plus the contract decimals.
			if amt, ok := decodeHexAmount(act.RawContract.RawValue, act.RawContract.Decimals); ok {
				obs.Amount = amt
			}
		}

		observations = append(observations, obs)
	}

	if len(observations) == 0 {
		return nil, fmt.Errorf("alchemy payload had no usable activity")
	}
	return observations, nil
}

// decodeHexAmount converts a 0x-prefixed big-endian amount into a decimal
// scaled down by the token's decimals.
func decodeHexAmount(rawValue string, decimals int) (decimal.Decimal, bool) {
	hex := strings.TrimPrefix(rawValue, "0x")
	if hex == "" {
		return decimal.Zero, false
	}
	bi, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromBigInt(bi, 0).Shift(int32(-decimals)), true
}
