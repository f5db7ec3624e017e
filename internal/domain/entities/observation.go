package entities

import "github.com/shopspring/decimal"

// Observation is a normalized, provider-agnostic description of a single
// on-chain transfer extracted from a webhook payload. It is transient and
// never persisted.
type Observation struct {
	Provider      Provider
	Chain         Chain
	Token         Token
	TxHash        string
	Memo          string
	FromAddress   string
	ToAddress     string
	Amount        decimal.Decimal
	TokenContract string

	// RawPayload is set only when extraction failed entirely and the
	// observation exists for manual triage.
	RawPayload []byte
}

// IsTriageOnly reports whether this observation carries no usable transfer
// data and exists only so the raw payload reaches a human.
func (o *Observation) IsTriageOnly() bool {
	return o.TxHash == "" && o.ToAddress == "" && len(o.RawPayload) > 0
}

// HasReliableAmount reports whether the extracted amount can drive matching
func (o *Observation) HasReliableAmount() bool {
	return o.Amount.IsPositive()
}
