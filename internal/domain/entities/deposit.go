package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deposit is a user-declared deposit intent mutated only by the
// reconciliation engine. Rows are never deleted.
type Deposit struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	UserID           *uuid.UUID      `db:"user_id" json:"user_id,omitempty"`
	Chain            Chain           `db:"chain" json:"chain"`
	Token            Token           `db:"token" json:"token"`
	CustodialAddress string          `db:"custodial_address" json:"custodial_address"`
	ExpectedAmount   decimal.Decimal `db:"expected_amount" json:"expected_amount"`
	ActualAmount     decimal.NullDecimal `db:"actual_amount" json:"actual_amount,omitempty"`
	TxHash           *string         `db:"tx_hash" json:"tx_hash,omitempty"`
	Memo             *string         `db:"memo" json:"memo,omitempty"`
	Provider         *string         `db:"provider" json:"provider,omitempty"`
	Status           DepositStatus   `db:"status" json:"status"`
	FailureReason    *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CouponID         *uuid.UUID      `db:"coupon_id" json:"coupon_id,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	CreditedAt       *time.Time      `db:"credited_at" json:"credited_at,omitempty"`
}

// HasActualAmount reports whether a verified or observed amount is present
func (d *Deposit) HasActualAmount() bool {
	return d.ActualAmount.Valid && !d.ActualAmount.Decimal.IsZero()
}

// WithinTolerance reports whether actual deviates from expected by no more
// than toleranceBps basis points of the expected amount.
func WithinTolerance(expected, actual decimal.Decimal, toleranceBps int64) bool {
	if expected.IsZero() {
		return actual.IsZero()
	}
	allowed := expected.Mul(decimal.NewFromInt(toleranceBps)).Div(decimal.NewFromInt(10000))
	return actual.Sub(expected).Abs().LessThanOrEqual(allowed)
}

// NewUnmatchedDeposit creates a deposit shell for an observed transfer that
// matched no pending intent, so funds are never silently lost.
func NewUnmatchedDeposit(obs *Observation, now time.Time) *Deposit {
	var txHash, memo, provider *string
	if obs.TxHash != "" {
		h := obs.TxHash
		txHash = &h
	}
	if obs.Memo != "" {
		m := obs.Memo
		memo = &m
	}
	if obs.Provider != "" {
		p := string(obs.Provider)
		provider = &p
	}

	return &Deposit{
		ID:               uuid.New(),
		Chain:            obs.Chain,
		Token:            obs.Token,
		CustodialAddress: obs.ToAddress,
		ExpectedAmount:   obs.Amount,
		ActualAmount:     decimal.NullDecimal{Decimal: obs.Amount, Valid: !obs.Amount.IsZero()},
		TxHash:           txHash,
		Memo:             memo,
		Provider:         provider,
		Status:           DepositStatusUnmatched,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
