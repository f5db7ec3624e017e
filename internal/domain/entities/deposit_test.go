package entities

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		bps      int64
		within   bool
	}{
		{"exact match", "100", "100", 50, true},
		{"just under upper bound", "100", "100.49", 50, true},
		{"exact upper boundary accepted", "100", "100.5", 50, true},
		{"over upper boundary", "100", "100.51", 50, false},
		{"exact lower boundary accepted", "100", "99.5", 50, true},
		{"under lower boundary", "100", "99.49", 50, false},
		{"zero tolerance requires exact", "100", "100.000001", 0, false},
		{"small amounts", "0.01", "0.010001", 100, true},
		{"small amounts over", "0.01", "0.0102", 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expected := decimal.RequireFromString(tt.expected)
			actual := decimal.RequireFromString(tt.actual)
			assert.Equal(t, tt.within, WithinTolerance(expected, actual, tt.bps))
		})
	}
}

func TestWithinToleranceZeroExpected(t *testing.T) {
	zero := decimal.Zero
	assert.True(t, WithinTolerance(zero, decimal.Zero, 50))
	assert.False(t, WithinTolerance(zero, decimal.NewFromInt(1), 50))
}

func TestNewUnmatchedDeposit(t *testing.T) {
	now := time.Now().UTC()
	obs := &Observation{
		Provider:    ProviderAlchemy,
		Chain:       ChainEthereum,
		Token:       TokenUSDC,
		TxHash:      "0xabc",
		Memo:        "hello",
		FromAddress: "0xsender",
		ToAddress:   "0xcustodial",
		Amount:      decimal.NewFromInt(25),
	}

	d := NewUnmatchedDeposit(obs, now)

	assert.Equal(t, DepositStatusUnmatched, d.Status)
	assert.Nil(t, d.UserID)
	assert.Equal(t, ChainEthereum, d.Chain)
	assert.Equal(t, TokenUSDC, d.Token)
	assert.Equal(t, "0xcustodial", d.CustodialAddress)
	require.NotNil(t, d.TxHash)
	assert.Equal(t, "0xabc", *d.TxHash)
	require.NotNil(t, d.Memo)
	assert.Equal(t, "hello", *d.Memo)
	require.NotNil(t, d.Provider)
	assert.Equal(t, "alchemy", *d.Provider)
	assert.True(t, d.ActualAmount.Valid)
	assert.True(t, d.ActualAmount.Decimal.Equal(decimal.NewFromInt(25)))
	assert.True(t, d.ExpectedAmount.Equal(decimal.NewFromInt(25)))
}

func TestNewUnmatchedDepositOmitsEmptyFields(t *testing.T) {
	now := time.Now().UTC()
	obs := &Observation{
		Chain:     ChainTron,
		Token:     TokenUSDT,
		ToAddress: "Taddr",
		Amount:    decimal.Zero,
	}

	d := NewUnmatchedDeposit(obs, now)

	assert.Nil(t, d.TxHash)
	assert.Nil(t, d.Memo)
	assert.Nil(t, d.Provider)
	assert.False(t, d.ActualAmount.Valid)
}

func TestObservationTriageAndReliability(t *testing.T) {
	triage := &Observation{RawPayload: []byte(`{"weird":true}`)}
	assert.True(t, triage.IsTriageOnly())
	assert.False(t, triage.HasReliableAmount())

	usable := &Observation{TxHash: "0x1", ToAddress: "0x2", Amount: decimal.NewFromInt(5)}
	assert.False(t, usable.IsTriageOnly())
	assert.True(t, usable.HasReliableAmount())

	noAmount := &Observation{TxHash: "0x1", ToAddress: "0x2"}
	assert.False(t, noAmount.HasReliableAmount())
}
