// Package normalizer turns raw provider webhook payloads into chain-agnostic
// transfer Observations. Each provider has its own extraction strategy; all
// of them converge on the entities.Observation contract.
package normalizer

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// Extractor decodes one provider's payload shape
type Extractor interface {
	// Extract parses the raw payload into observations. Implementations
	// return an error only when the payload is entirely unusable.
	Extract(chain entities.Chain, raw []byte) ([]entities.Observation, error)
}

// Service dispatches payloads to the extractor registered for the provider
type Service struct {
	extractors map[entities.Provider]Extractor
	logger     *logger.Logger
}

// NewService creates a normalizer with the default provider strategies
func NewService(logger *logger.Logger) *Service {
	return &Service{
		extractors: map[entities.Provider]Extractor{
			entities.ProviderAlchemy:   &AlchemyExtractor{},
			entities.ProviderQuickNode: &QuickNodeExtractor{},
			entities.ProviderHelius:    &HeliusExtractor{},
			entities.ProviderTronGrid:  &TronGridExtractor{},
		},
		logger: logger,
	}
}

// Register installs or replaces an extractor, used by tests
func (s *Service) Register(provider entities.Provider, e Extractor) {
	s.extractors[provider] = e
}

// Normalize never fails: malformed input or an unknown provider yields a
// single raw-only observation so the payload still reaches manual triage.
func (s *Service) Normalize(provider entities.Provider, chain entities.Chain, raw []byte) []entities.Observation {
	extractor, ok := s.extractors[provider]
	if !ok {
		s.logger.Warn("No extractor registered for provider", "provider", provider, "chain", chain)
		return []entities.Observation{triageObservation(provider, chain, raw)}
	}

	observations, err := extractor.Extract(chain, raw)
	if err != nil || len(observations) == 0 {
		if err != nil {
			s.logger.Warn("Payload extraction failed",
				"provider", provider,
				"chain", chain,
				"error", err,
			)
		}
		return []entities.Observation{triageObservation(provider, chain, raw)}
	}

	for i := range observations {
		observations[i].Provider = provider
		observations[i].Chain = chain
	}

	return observations
}

func triageObservation(provider entities.Provider, chain entities.Chain, raw []byte) entities.Observation {
	return entities.Observation{
		Provider:   provider,
		Chain:      chain,
		RawPayload: raw,
	}
}

// tokenFromSymbol maps a provider-reported asset symbol onto the configured
// token set; unknown symbols fall back to the contract-identified token.
func tokenFromSymbol(symbol string) entities.Token {
	switch strings.ToUpper(symbol) {
	case "USDT":
		return entities.TokenUSDT
	case "USDC":
		return entities.TokenUSDC
	case "ETH", "MATIC", "POL", "BNB", "SOL", "TRX":
		return entities.TokenNative
	}
	return entities.Token(strings.ToUpper(symbol))
}

func parseDecimalString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}
